package models

// Notification is a human-readable arrival alert.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
