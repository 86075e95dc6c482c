package mailer

// Sender delivers a plaintext one-time code to the user out-of-band.
type Sender interface {
	SendOTP(toEmail, code string) error
}
