package handler

import "moderation/internal/moderation/models"

type TransitionsResponse struct {
	SubjectID   string                     `json:"subject_id"`
	Transitions []*models.TransitionRecord `json:"transitions"`
}

type CountersResponse struct {
	Counters []models.Counters `json:"counters"`
}

type NotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}
