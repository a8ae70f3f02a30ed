package commands

import (
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vcplay/internal/dispatch"
)

// audioExtensions lists file extensions accepted as audio without a content
// type.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".webm": true,
	".mp4":  true,
}

// IsAudio reports whether an attachment looks like something ffmpeg can
// decode to audio, judged by content type first and extension second.
func IsAudio(contentType, filename string) bool {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") {
		return true
	}
	return audioExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ResolvedAttachment returns the attachment an attachment option refers to,
// or nil if the interaction does not carry it.
func ResolvedAttachment(data discordgo.ApplicationCommandInteractionData, opt *discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageAttachment {
	id, ok := opt.Value.(string)
	if !ok || data.Resolved == nil {
		return nil
	}
	return data.Resolved.Attachments[id]
}

func toAttachment(a *discordgo.MessageAttachment) dispatch.Attachment {
	return dispatch.Attachment{
		URL:         a.URL,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
	}
}
