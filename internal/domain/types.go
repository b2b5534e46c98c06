package domain

import "time"

type ThreadID string
type MessageID string

type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
)

type Timestamp = time.Time
