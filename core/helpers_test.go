package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	alice = User{ID: "u-alice", Username: "alice", Password: "password", DisplayName: "Alice"}
	bob   = User{ID: "u-bob", Username: "bob", Password: "password", DisplayName: "Bob"}
	carol = User{ID: "u-carol", Username: "carol", Password: "password", DisplayName: "Carol"}
)

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, users ...User) {
	for _, u := range users {
		if _, err := userStore.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
}

func seedPrivateRoom(f *ChatFixture, a, b User) *Room {
	room, err := f.chatStore.CreatePrivateRoom(f.ctx, a.ID, b.ID)
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func seedTribeRoom(f *ChatFixture, id string, members ...User) *Room {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	room, err := f.chatStore.CreateTribeRoom(f.ctx, id, ids)
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func textMessage(roomID string, sender User, body string, sentAt time.Time) Message {
	return Message{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Kind:       TextMessage,
		Body:       body,
		SentAt:     sentAt.UTC().Truncate(time.Millisecond),
	}
}

func seedMessages(f *ChatFixture, roomID string, msgs ...Message) {
	if err := f.chatStore.SaveMessages(f.ctx, roomID, msgs); err != nil {
		f.t.Fatal(err)
	}
}

// join puts a new connection of the user in the room and returns the connection id.
func (f *RelayFixture) join(u User, roomID string) string {
	connID := uuid.New().String()
	_, err := f.relay.Join(f.ctx, connID, u.ID, JoinInput{DisplayName: u.DisplayName, RoomID: roomID, UserID: u.ID})
	if err != nil {
		f.t.Fatal(err)
	}
	return connID
}

func (f *RelayFixture) send(connID, text string) *Message {
	msg, err := f.relay.Send(f.ctx, connID, SendInput{Text: text})
	if err != nil {
		f.t.Fatal(err)
	}
	return msg
}

func (f *RelayFixture) flush(room *Room) {
	if _, err := f.relay.Flusher().Flush(f.ctx, room.Kind, room.ID); err != nil {
		f.t.Fatal(err)
	}
}

func (f *RelayFixture) buffered(room *Room) []Message {
	msgs, err := f.buffer.List(f.ctx, room.Kind, room.ID)
	if err != nil {
		f.t.Fatal(err)
	}
	return msgs
}

func (f *RelayFixture) summary(roomID string) RoomSummary {
	room, err := f.chatStore.GetRoomByID(f.ctx, roomID)
	if err != nil {
		f.t.Fatal(err)
	}
	return room.Summary
}
