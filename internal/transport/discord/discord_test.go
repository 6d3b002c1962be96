package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/takohq/tako/internal/config"
)

func newTestTransport(channelID string) *Transport {
	return &Transport{cfg: config.DiscordConfig{BotToken: "token", ChannelID: channelID}}
}

func messageCreate(channelID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "1111",
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "2222"},
	}}
}

func TestTranslateMessageAllowedChannel(t *testing.T) {
	tr := newTestTransport("3333")

	if _, ok := tr.translateMessage(messageCreate("9999", "hi")); ok {
		t.Error("message from a foreign channel was delivered")
	}

	u, ok := tr.translateMessage(messageCreate("3333", "hi"))
	if !ok {
		t.Fatal("message from the configured channel was dropped")
	}
	if u.ChatID != 3333 || u.MessageID != 1111 || u.UserID != 2222 || u.Text != "hi" {
		t.Errorf("translated update = %+v", u)
	}
}

func TestTranslateMessageSkipsBots(t *testing.T) {
	m := messageCreate("3333", "beep")
	m.Author.Bot = true
	if _, ok := newTestTransport("3333").translateMessage(m); ok {
		t.Error("bot message was delivered")
	}
}

func TestTranslateMessageAttachments(t *testing.T) {
	m := messageCreate("3333", "see attached")
	m.Attachments = []*discordgo.MessageAttachment{
		{URL: "https://cdn.example/voice.ogg", ContentType: "audio/ogg", Size: 4096},
		{URL: "https://cdn.example/shot.png", ContentType: "image/png", Size: 1024},
		{URL: "https://cdn.example/other.ogg", ContentType: "audio/ogg", Size: 1},
	}

	u, ok := newTestTransport("3333").translateMessage(m)
	if !ok {
		t.Fatal("attachment message was dropped")
	}
	if u.Voice == nil || u.Voice.URL != "https://cdn.example/voice.ogg" || u.Voice.Size != 4096 {
		t.Errorf("Voice = %+v, want the first audio attachment", u.Voice)
	}
	if u.Photo == nil || u.Photo.URL != "https://cdn.example/shot.png" {
		t.Errorf("Photo = %+v", u.Photo)
	}
}

func TestTranslateMessageEmptySkipped(t *testing.T) {
	if _, ok := newTestTransport("3333").translateMessage(messageCreate("3333", "")); ok {
		t.Error("empty message was delivered")
	}
}

func TestParseSnowflake(t *testing.T) {
	id, err := parseSnowflake("1146279316303179879")
	if err != nil {
		t.Fatalf("parseSnowflake returned error: %v", err)
	}
	if id != 1146279316303179879 {
		t.Errorf("parseSnowflake = %d", id)
	}
	if _, err := parseSnowflake("not-a-snowflake"); err == nil {
		t.Error("parseSnowflake accepted garbage")
	}
}
