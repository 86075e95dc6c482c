package mailer

import (
	"fmt"

	"github.com/nexom/backend/pkg/logger"
)

// DevMailer prints the code to the log instead of sending anything.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendOTP(toEmail, code string) error {
	logger.Info("📧 [DEV MAIL] OTP Email",
		"to", toEmail,
		"code", code,
	)

	fmt.Printf("\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"📧 OTP EMAIL (DEV MODE)\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"To: %s\n"+
		"Subject: Your OTP for Nexom App\n"+
		"\n"+
		"Your OTP is %s. It is valid for 5 minutes.\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n",
		toEmail, code)

	return nil
}
