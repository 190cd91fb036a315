package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

type Settings struct {
	ChannelKey       string
	DefaultVolume    float64
	AutoLeaveSeconds int
}

type PlayRecord struct {
	ID              int64
	Platform        string
	ChannelID       string
	UserID          string
	Source          string
	SourceID        string
	Title           string
	DurationSeconds int
	PlayedAt        int64
}
