package model

type UserRole int

const (
	UserRoleAdmin UserRole = 0
	UserRoleUser  UserRole = 1
)

type UserStatus int

const (
	UserStatusActive   UserStatus = 0
	UserStatusInactive UserStatus = 1
	UserStatusBanned   UserStatus = 2
)

type StageStatus int

const (
	StageStatusLive  StageStatus = 0
	StageStatusEnded StageStatus = 1
)
