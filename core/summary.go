package core

import (
	"regexp"
	"strings"
)

const (
	EditedMarker  = "*Message Edited*"
	DeletedMarker = "*Message Deleted*"

	imagePreview = "📷 Image"
	videoPreview = "🎬 Video"
	filePreview  = "📎 File"
)

var (
	imageExt = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp)(\?|#|$)`)
	videoExt = regexp.MustCompile(`(?i)\.(mp4|mov|avi|mkv)(\?|#|$)`)
)

// DetectAttachmentKind classifies an attachment by its MIME type,
// falling back to the url's file extension when no MIME type is given.
func DetectAttachmentKind(mimeType, url string) AttachmentKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return ImageAttachment
	case strings.HasPrefix(mimeType, "video/"):
		return VideoAttachment
	case mimeType != "":
		return GenericAttachment
	case imageExt.MatchString(url):
		return ImageAttachment
	case videoExt.MatchString(url):
		return VideoAttachment
	default:
		return GenericAttachment
	}
}

// Preview is the room summary text for a message.
func Preview(m *Message) string {
	if m.Kind == TextMessage {
		return m.Body
	}
	switch m.AttachmentKind {
	case ImageAttachment:
		return imagePreview
	case VideoAttachment:
		return videoPreview
	default:
		return filePreview
	}
}

// replySnippet is the text kept in a reply reference to m.
func replySnippet(m *Message) (string, bool) {
	if m.Kind == TextMessage {
		return m.Body, false
	}
	if m.Caption != "" {
		return m.Caption, true
	}
	return Preview(m), true
}
