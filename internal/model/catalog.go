package model

// List is a provider-side collection subscribers are added to
// (SendX list, SendPulse address book, GetResponse campaign).
type List struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

type Sender struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Automation struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// AutomationStats aggregates delivery counters of one automation flow
type AutomationStats struct {
	AutomationID string `json:"automation_id"`
	Name         string `json:"name,omitempty"`
	Started      int    `json:"started"`
	Finished     int    `json:"finished"`
	Sent         int    `json:"sent"`
	Delivered    int    `json:"delivered"`
	Opened       int    `json:"opened"`
	Clicked      int    `json:"clicked"`
	Unsubscribed int    `json:"unsubscribed"`
	Spam         int    `json:"spam"`
	SendError    int    `json:"send_error"`
}

// TemplateDetail is the editable content of one email template
type TemplateDetail struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FromName  string `json:"from_name,omitempty"`
	FromEmail string `json:"from_email,omitempty"`
	Subject   string `json:"subject,omitempty"`
	HTML      string `json:"html"`
	Text      string `json:"text,omitempty"`
}

// ActionSubscriber is a recipient of an automation that performed the
// filtered action
type ActionSubscriber struct {
	Email  string `json:"email"`
	Action string `json:"action,omitempty"`
	Date   string `json:"date,omitempty"`
}
