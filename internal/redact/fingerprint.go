package redact

import (
	"crypto/sha256"
	"fmt"

	"github.com/receiptflow/receiptflow/internal/model"
)

// Fingerprint derives the stable content-addressed key for a message.
// It is the single source of identity correlating a message to its eventual
// expense: the cache keys on it and the coordinator dedups on it. Identical
// redacted content and template always yield the same fingerprint.
func Fingerprint(redactedText, templateID, attachmentDigest string) string {
	data := fmt.Sprintf("%s:%s:%s", redactedText, templateID, attachmentDigest)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// AttachmentDigest digests all attachments of a message in delivery order.
// Returns the empty string when there are no attachments.
func AttachmentDigest(attachments []model.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}

	h := sha256.New()
	for _, a := range attachments {
		h.Write([]byte(a.Name))
		h.Write([]byte{0})
		h.Write(a.Data)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
