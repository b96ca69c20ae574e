package types

// EmailAddress pairs a display name with an address.
type EmailAddress struct {
	Name    string
	Address string
}

// SendInput carries pre-rendered email content to the email provider.
// Rendering happens in the notifications layer; providers only transmit.
type SendInput struct {
	From     EmailAddress
	To       string
	Subject  string
	BodyHTML string
	BodyText string
}
