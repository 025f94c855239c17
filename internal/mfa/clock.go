package mfa

import "time"

// timeNow is swapped in tests to pin the TOTP window and OTP expiry.
var timeNow = time.Now
