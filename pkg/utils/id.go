package utils

import "github.com/google/uuid"

// GenMessageID returns a new durable message identity.
func GenMessageID() string { return "msg-" + uuid.NewString() }

// GenThreadID returns a new thread identity.
func GenThreadID() string { return "thr-" + uuid.NewString() }

// GenNotificationID returns a new durable notification identity.
func GenNotificationID() string { return "ntf-" + uuid.NewString() }

// GenSessionID returns an ephemeral connection session identity.
func GenSessionID() string { return "ses-" + uuid.NewString() }
