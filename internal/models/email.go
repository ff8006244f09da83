package models

// EmailRecipient is one address parsed from the share form.
type EmailRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EmailRequest is a share of one generated image.
type EmailRequest struct {
	Recipients []EmailRecipient `json:"recipients"`
	Subject    string           `json:"subject"`
	Message    string           `json:"message"`
	ImageURL   string           `json:"imageUrl"`
	SenderName string           `json:"senderName,omitempty"`
}

// EmailMessage is what a Mailer actually sends to a single recipient.
type EmailMessage struct {
	To                   EmailRecipient
	FromName             string
	Subject              string
	Body                 string
	Attachment           []byte
	AttachmentMime       string
	DownloadInstructions string
}
