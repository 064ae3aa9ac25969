package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPrivateRelay seeds alice, bob and carol and a private room between alice and bob.
func newPrivateRelay(t *testing.T) (*RelayFixture, *Room) {
	f := NewRelayFixture(t)
	seedUsers(f.ctx, t, f.userStore, alice, bob, carol)
	return f, seedPrivateRoom(f.ChatFixture, alice, bob)
}

func (f *RelayFixture) history(u User, room *Room, page int) *MessagePage {
	p, err := f.relay.History(f.ctx, u.ID, room.ID, page)
	if err != nil {
		f.t.Fatal(err)
	}
	return p
}

func bodies(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestJoin(t *testing.T) {
	t.Run("broadcasts names to the room", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()

		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)

		events := f.emitter.ofType(PresenceUpdatedEvent)
		require.Len(t, events, 2)
		assert.Equal(t, []string{aliceConn}, events[0].Conns)
		assert.Equal(t, PresenceUpdatedPayload{Names: []string{"Alice"}}, events[0].Payload)
		assert.ElementsMatch(t, []string{aliceConn, bobConn}, events[1].Conns)
		assert.Equal(t, PresenceUpdatedPayload{Names: []string{"Alice", "Bob"}}, events[1].Payload)
	})

	t.Run("moving rooms updates the previous room", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		tribe := seedTribeRoom(f.ChatFixture, "tribe-1", alice, bob)
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		f.emitter.reset()

		_, err := f.relay.Join(f.ctx, aliceConn, alice.ID, JoinInput{DisplayName: "Alice", RoomID: tribe.ID, UserID: alice.ID})
		require.Nil(t, err)

		events := f.emitter.ofType(PresenceUpdatedEvent)
		require.Len(t, events, 2)
		assert.Equal(t, []string{aliceConn}, events[0].Conns)
		assert.Equal(t, []string{bobConn}, events[1].Conns)
		assert.Equal(t, PresenceUpdatedPayload{Names: []string{"Bob"}}, events[1].Payload)
	})

	t.Run("rejected joins", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()

		_, err := f.relay.Join(f.ctx, "c1", alice.ID, JoinInput{RoomID: room.ID, UserID: alice.ID})
		assert.ErrorIs(t, err, ErrJoinFieldsRequired)
		assert.Equal(t, "Name, room, and userId are required.", ClientMessage(err))

		_, err = f.relay.Join(f.ctx, "c1", alice.ID, JoinInput{DisplayName: "Bob", RoomID: room.ID, UserID: bob.ID})
		assert.ErrorIs(t, err, ErrUnauthorized)

		_, err = f.relay.Join(f.ctx, "c1", carol.ID, JoinInput{DisplayName: "Carol", RoomID: room.ID, UserID: carol.ID})
		assert.ErrorIs(t, err, ErrNotParticipant)

		_, err = f.relay.Join(f.ctx, "c1", alice.ID, JoinInput{DisplayName: "Alice", RoomID: "random", UserID: alice.ID})
		assert.ErrorIs(t, err, ErrInvalidRoom)

		assert.Empty(t, f.emitter.ofType(PresenceUpdatedEvent))
	})
}

func TestSend(t *testing.T) {
	t.Run("two users exchange a message and a read receipt", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)

		sent := f.send(aliceConn, "hi")

		news := f.emitter.ofType(NewMessageEvent)
		require.Len(t, news, 1)
		assert.ElementsMatch(t, []string{aliceConn, bobConn}, news[0].Conns)
		got := news[0].Payload.(*Message)
		assert.Equal(t, "hi", got.Body)
		assert.False(t, got.Seen)
		assert.Equal(t, "Alice", got.SenderName)

		summary := f.summary(room.ID)
		assert.Equal(t, "hi", summary.LastMessageText)
		require.NotNil(t, summary.LastMessageID)
		assert.Equal(t, sent.ID, *summary.LastMessageID)
		summaries := f.emitter.ofType(RoomSummaryUpdatedEvent)
		require.Len(t, summaries, 1)
		assert.Nil(t, summaries[0].Conns, "summaries go to every connection")
		assert.Nil(t, summaries[0].Users)

		require.Nil(t, f.relay.MarkSeen(f.ctx, bobConn, MarkSeenInput{MessageID: sent.ID, RoomID: room.ID}))

		updates := f.emitter.ofType(MessageUpdatedEvent)
		require.Len(t, updates, 1)
		assert.ElementsMatch(t, []string{aliceConn, bobConn}, updates[0].Conns)
		updated := updates[0].Payload.(*Message)
		assert.Equal(t, sent.ID, updated.ID)
		assert.True(t, updated.Seen)
	})

	t.Run("notifies the other participants", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		f.send(aliceConn, "hi")
		f.relay.Wait()

		assert.Equal(t, []pushed{{UserID: bob.ID, Text: "New message from Alice"}}, f.sink.all())
	})

	t.Run("notification failures do not fail the send", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		f.sink.err = errors.New("broker down")
		aliceConn := f.join(alice, room.ID)

		_, err := f.relay.Send(f.ctx, aliceConn, SendInput{Text: "hi"})

		assert.Nil(t, err)
	})

	t.Run("empty text", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		_, err := f.relay.Send(f.ctx, aliceConn, SendInput{Text: "   "})

		assert.ErrorIs(t, err, ErrEmptyMessage)
		assert.Empty(t, f.buffered(room))
		assert.Empty(t, f.emitter.ofType(NewMessageEvent))
	})

	t.Run("not joined", func(t *testing.T) {
		f, _ := newPrivateRelay(t)
		defer f.tearDown()

		_, err := f.relay.Send(f.ctx, "random", SendInput{Text: "hi"})

		assert.ErrorIs(t, err, ErrNotJoined)
	})

	t.Run("removed participant can no longer send", func(t *testing.T) {
		f, _ := newPrivateRelay(t)
		defer f.tearDown()
		tribe := seedTribeRoom(f.ChatFixture, "tribe-1", alice, bob)
		bobConn := f.join(bob, tribe.ID)
		require.Nil(t, f.chatStore.RemoveParticipant(f.ctx, tribe.ID, bob.ID))

		_, err := f.relay.Send(f.ctx, bobConn, SendInput{Text: "hi"})

		assert.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("reply reference", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		original := f.send(aliceConn, "lunch?")

		reply, err := f.relay.Send(f.ctx, bobConn, SendInput{Text: "sure", ReplyTo: original.ID})

		require.Nil(t, err)
		assert.Equal(t, &ReplyRef{MessageID: original.ID, AuthorID: alice.ID, Snippet: "lunch?"}, reply.ReplyTo)

		_, err = f.relay.Send(f.ctx, bobConn, SendInput{Text: "sure", ReplyTo: "random"})
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestSendFile(t *testing.T) {
	t.Run("image preview", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		msg, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{
			AttachmentURL: "http://blob.test/attachments/cat.png",
			MimeType:      "image/png",
			Caption:       "my cat",
		})

		require.Nil(t, err)
		assert.Equal(t, FileMessage, msg.Kind)
		assert.Equal(t, ImageAttachment, msg.AttachmentKind)
		assert.Equal(t, "📷 Image", f.summary(room.ID).LastMessageText)
	})

	t.Run("kind from the url extension", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		msg, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/clip.mov"})

		require.Nil(t, err)
		assert.Equal(t, VideoAttachment, msg.AttachmentKind)
		assert.Equal(t, "🎬 Video", f.summary(room.ID).LastMessageText)
	})

	t.Run("missing attachment", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		_, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{Caption: "nothing"})

		assert.ErrorIs(t, err, ErrMissingAttachment)
	})
}

func TestHistory(t *testing.T) {
	t.Run("order survives flush timing", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		f.send(aliceConn, "A")
		f.send(aliceConn, "B")
		f.flush(room)
		f.send(aliceConn, "C")

		page := f.history(bob, room, 0)

		assert.Equal(t, []string{"A", "B", "C"}, bodies(page.Messages))
		assert.False(t, page.HasMore)
		assert.Empty(t, f.buffered(room), "first page flushes the room")
	})

	t.Run("concurrent senders keep broadcast order", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		f.clock.tick(time.Millisecond)
		conns := []string{f.join(alice, room.ID), f.join(bob, room.ID)}

		var wg sync.WaitGroup
		for _, conn := range conns {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				for i := 0; i < 8; i++ {
					if _, err := f.relay.Send(f.ctx, conn, SendInput{Text: fmt.Sprintf("%s-%d", conn, i)}); err != nil {
						t.Error(err)
					}
				}
			}(conn)
		}
		wg.Wait()

		var broadcast []string
		for _, e := range f.emitter.ofType(NewMessageEvent) {
			broadcast = append(broadcast, e.Payload.(*Message).Body)
		}
		require.Len(t, broadcast, 16)
		assert.Equal(t, broadcast, bodies(f.history(alice, room, 0).Messages))
	})

	t.Run("round trip keeps every field", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		text := f.send(aliceConn, "look")
		file, err := f.relay.SendFile(f.ctx, bobConn, SendFileInput{
			AttachmentURL: "http://blob.test/attachments/doc.pdf",
			MimeType:      "application/pdf",
			Caption:       "the doc",
			ReplyTo:       text.ID,
		})
		require.Nil(t, err)

		page := f.history(alice, room, 0)

		require.Len(t, page.Messages, 2)
		assert.Equal(t, *text, page.Messages[0])
		assert.Equal(t, *file, page.Messages[1])
	})

	t.Run("pages of twenty", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		for i := 0; i < 25; i++ {
			f.send(aliceConn, fmt.Sprint(i))
		}

		first := f.history(alice, room, 0)
		second := f.history(alice, room, 1)

		require.Len(t, first.Messages, PageSize)
		assert.True(t, first.HasMore)
		assert.Equal(t, "5", first.Messages[0].Body)
		assert.Equal(t, "24", first.Messages[PageSize-1].Body)
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}, bodies(second.Messages))
		assert.False(t, second.HasMore)
	})

	t.Run("rejected reads", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()

		_, err := f.relay.History(f.ctx, carol.ID, room.ID, 0)
		assert.ErrorIs(t, err, ErrNotParticipant)
		_, err = f.relay.History(f.ctx, alice.ID, room.ID, -1)
		assert.ErrorIs(t, err, ErrInvalidPage)
	})

	t.Run("empty room", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()

		page := f.history(alice, room, 0)

		assert.NotNil(t, page.Messages)
		assert.Empty(t, page.Messages)
	})
}

func TestEdit(t *testing.T) {
	t.Run("edit window", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		inTime := f.send(aliceConn, "first")
		f.clock.Advance(6*time.Minute + 59*time.Second)
		_, err := f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: inTime.ID, NewText: "first!"})
		assert.Nil(t, err)

		late := f.send(aliceConn, "second")
		f.clock.Advance(7*time.Minute + time.Second)
		_, err = f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: late.ID, NewText: "second!"})
		assert.ErrorIs(t, err, ErrWindowExpired)

		msgs := f.buffered(room)
		require.Len(t, msgs, 2)
		assert.Equal(t, "first!", msgs[0].Body)
		assert.True(t, msgs[0].Edited)
		assert.Equal(t, "second", msgs[1].Body)
		assert.False(t, msgs[1].Edited)
	})

	t.Run("buffered message keeps its position", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		a := f.send(aliceConn, "A")
		f.send(aliceConn, "B")

		edited, err := f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: a.ID, NewText: "A2"})

		require.Nil(t, err)
		assert.Equal(t, []string{"A2", "B"}, bodies(f.buffered(room)))
		updates := f.emitter.ofType(MessageUpdatedEvent)
		require.Len(t, updates, 1)
		assert.Equal(t, edited, updates[0].Payload)
		assert.Equal(t, "B", f.summary(room.ID).LastMessageText, "only the summary message gets the marker")
	})

	t.Run("stored summary message", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "helo")
		f.flush(room)
		f.emitter.reset()

		_, err := f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: msg.ID, NewText: "hello"})

		require.Nil(t, err)
		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Equal(t, "hello", stored.Body)
		assert.True(t, stored.Edited)

		summary := f.summary(room.ID)
		assert.Equal(t, EditedMarker, summary.LastMessageText)
		require.NotNil(t, summary.LastMessageID)
		assert.Equal(t, msg.ID, *summary.LastMessageID)
		assert.Len(t, f.emitter.ofType(RoomSummaryUpdatedEvent), 1)
	})

	t.Run("rejected edits", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg := f.send(aliceConn, "hi")
		file, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/a.png"})
		require.Nil(t, err)

		_, err = f.relay.Edit(f.ctx, bobConn, EditInput{MessageID: msg.ID, NewText: "mine"})
		assert.ErrorIs(t, err, ErrNotSender)
		_, err = f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: file.ID, NewText: "caption"})
		assert.ErrorIs(t, err, ErrInvalidMessage)
		_, err = f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: "random", NewText: "x"})
		assert.ErrorIs(t, err, ErrMessageNotFound)
		_, err = f.relay.Edit(f.ctx, aliceConn, EditInput{MessageID: msg.ID, NewText: " "})
		assert.ErrorIs(t, err, ErrEmptyMessage)

		assert.Equal(t, "hi", f.buffered(room)[0].Body)
	})
}

func TestDeleteForEveryone(t *testing.T) {
	t.Run("non sender is always rejected", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg := f.send(aliceConn, "hi")

		err := f.relay.Delete(f.ctx, bobConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone})
		assert.ErrorIs(t, err, ErrNotSender)

		f.clock.Advance(time.Hour)
		err = f.relay.Delete(f.ctx, bobConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone})
		assert.ErrorIs(t, err, ErrNotSender)

		assert.Len(t, f.buffered(room), 1)
	})

	t.Run("erases a buffered message", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/a.png"})
		require.Nil(t, err)

		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone}))

		assert.Empty(t, f.buffered(room))
		assert.Equal(t, []string{msg.AttachmentURL}, f.blobs.deletedURLs())
		deleted := f.emitter.ofType(MessageDeletedEvent)
		require.Len(t, deleted, 1)
		assert.ElementsMatch(t, []string{aliceConn, bobConn}, deleted[0].Conns)
		assert.Equal(t, MessageDeletedPayload{MessageID: msg.ID, RoomID: room.ID}, deleted[0].Payload)

		summary := f.summary(room.ID)
		assert.Equal(t, DeletedMarker, summary.LastMessageText)
		assert.Nil(t, summary.LastMessageID)
	})

	t.Run("erases a stored message", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "oops")
		f.flush(room)

		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone}))

		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Nil(t, stored)
	})

	t.Run("erases the stored copy left by a failed trim", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "oops")
		// saved by a flush whose trim failed
		seedMessages(f.ChatFixture, room.ID, f.buffered(room)...)

		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone}))

		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Nil(t, stored)
		assert.Empty(t, f.history(bob, room, 0).Messages)
	})

	t.Run("blob failure does not block the erase", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		f.blobs.deleteErr = errors.New("bucket gone")
		aliceConn := f.join(alice, room.ID)
		msg, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/a.png"})
		require.Nil(t, err)

		err = f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone})

		assert.Nil(t, err)
		assert.Empty(t, f.buffered(room))
	})

	t.Run("after the window", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "hi")
		f.clock.Advance(EditWindow + time.Second)

		err := f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForEveryone})

		assert.ErrorIs(t, err, ErrWindowExpired)
	})

	t.Run("unknown scope", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "hi")

		err := f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: "them"})

		assert.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestDeleteForMe(t *testing.T) {
	t.Run("hidden for one, erased once hidden for both", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/a.png"})
		require.Nil(t, err)

		// buffered
		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		deleted := f.emitter.ofType(MessageDeletedEvent)
		require.Len(t, deleted, 1)
		assert.Equal(t, []string{alice.ID}, deleted[0].Users, "only the requester is told")
		assert.Empty(t, f.history(alice, room, 0).Messages)
		assert.Len(t, f.history(bob, room, 0).Messages, 1)
		assert.Empty(t, f.blobs.deletedURLs())

		// stored
		require.Nil(t, f.relay.Delete(f.ctx, bobConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Nil(t, stored)
		assert.Empty(t, f.history(bob, room, 0).Messages)
		assert.Equal(t, []string{msg.AttachmentURL}, f.blobs.deletedURLs())
		summary := f.summary(room.ID)
		assert.Equal(t, DeletedMarker, summary.LastMessageText)
		assert.Nil(t, summary.LastMessageID)
	})

	t.Run("both hide while buffered", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg := f.send(aliceConn, "hi")

		require.Nil(t, f.relay.Delete(f.ctx, bobConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		assert.Equal(t, []string{bob.ID}, f.buffered(room)[0].DeletedFor)
		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		assert.Empty(t, f.buffered(room))
	})

	t.Run("both hide a message left in the store by a failed trim", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		msg := f.send(aliceConn, "hi")
		seedMessages(f.ChatFixture, room.ID, f.buffered(room)...)

		require.Nil(t, f.relay.Delete(f.ctx, bobConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Nil(t, stored)
		assert.Empty(t, f.history(alice, room, 0).Messages)
		assert.Empty(t, f.history(bob, room, 0).Messages)
	})

	t.Run("removed participants no longer count", func(t *testing.T) {
		f, _ := newPrivateRelay(t)
		defer f.tearDown()
		tribe := seedTribeRoom(f.ChatFixture, "tribe-1", alice, bob, carol)
		conns := map[string]string{}
		for _, u := range []User{alice, bob, carol} {
			conns[u.ID] = f.join(u, tribe.ID)
		}
		msg := f.send(conns[alice.ID], "hi all")
		f.flush(tribe)

		require.Nil(t, f.relay.Delete(f.ctx, conns[alice.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		require.Nil(t, f.chatStore.RemoveParticipant(f.ctx, tribe.ID, alice.ID))
		require.Nil(t, f.relay.Delete(f.ctx, conns[bob.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		require.NotNil(t, stored, "carol still sees it")

		require.Nil(t, f.relay.Delete(f.ctx, conns[carol.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		stored, err = f.chatStore.GetMessage(f.ctx, msg.ID)
		require.Nil(t, err)
		assert.Nil(t, stored)
	})

	t.Run("already hidden", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		msg := f.send(aliceConn, "hi")
		require.Nil(t, f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))

		err := f.relay.Delete(f.ctx, aliceConn, DeleteInput{MessageID: msg.ID, Scope: DeleteForMe})

		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("tribe needs every participant", func(t *testing.T) {
		f, _ := newPrivateRelay(t)
		defer f.tearDown()
		tribe := seedTribeRoom(f.ChatFixture, "tribe-1", alice, bob, carol)
		conns := map[string]string{}
		for _, u := range []User{alice, bob, carol} {
			conns[u.ID] = f.join(u, tribe.ID)
		}
		msg := f.send(conns[alice.ID], "hi all")

		require.Nil(t, f.relay.Delete(f.ctx, conns[alice.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		require.Nil(t, f.relay.Delete(f.ctx, conns[bob.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		assert.Len(t, f.buffered(tribe), 1)
		require.Nil(t, f.relay.Delete(f.ctx, conns[carol.ID], DeleteInput{MessageID: msg.ID, Scope: DeleteForMe}))
		assert.Empty(t, f.buffered(tribe))
	})
}

func TestMarkSeen(t *testing.T) {
	t.Run("without id marks the newest unseen message whoever sent it", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		f.send(aliceConn, "a")
		f.send(bobConn, "b")

		require.Nil(t, f.relay.MarkSeen(f.ctx, aliceConn, MarkSeenInput{RoomID: room.ID}))

		buffered := f.buffered(room)
		require.Len(t, buffered, 2)
		assert.False(t, buffered[0].Seen)
		assert.True(t, buffered[1].Seen)

		require.Nil(t, f.relay.MarkSeen(f.ctx, bobConn, MarkSeenInput{RoomID: room.ID}))

		assert.True(t, f.buffered(room)[0].Seen, "own messages are marked too")
	})

	t.Run("without id falls back to the store", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		f.send(bobConn, "1")
		f.send(bobConn, "2")
		f.flush(room)
		f.send(aliceConn, "3")

		require.Nil(t, f.relay.MarkSeen(f.ctx, aliceConn, MarkSeenInput{RoomID: room.ID}))
		require.Nil(t, f.relay.MarkSeen(f.ctx, aliceConn, MarkSeenInput{RoomID: room.ID}))

		page := f.history(alice, room, 0)
		seen := map[string]bool{}
		for _, m := range page.Messages {
			seen[m.Body] = m.Seen
		}
		assert.Equal(t, map[string]bool{"1": false, "2": true, "3": true}, seen)
	})

	t.Run("with id marks only that message", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		first := f.send(bobConn, "1")
		f.send(bobConn, "2")

		require.Nil(t, f.relay.MarkSeen(f.ctx, aliceConn, MarkSeenInput{MessageID: first.ID, RoomID: room.ID}))

		buffered := f.buffered(room)
		assert.True(t, buffered[0].Seen)
		assert.False(t, buffered[1].Seen)
	})

	t.Run("nothing to mark", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)

		require.Nil(t, f.relay.MarkSeen(f.ctx, aliceConn, MarkSeenInput{RoomID: room.ID}))

		assert.Empty(t, f.emitter.ofType(MessageUpdatedEvent))
	})
}

func TestMarkRoomSeen(t *testing.T) {
	t.Run("marks stored then buffered messages", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		bobConn := f.join(bob, room.ID)
		f.send(bobConn, "1")
		f.send(aliceConn, "2")
		f.flush(room)
		f.send(bobConn, "3")

		n, err := f.relay.MarkRoomSeen(f.ctx, alice.ID, room.ID)

		require.Nil(t, err)
		assert.Equal(t, 3, n)
		updates := f.emitter.ofType(MessageUpdatedEvent)
		require.Len(t, updates, 3)
		var marked []string
		for _, u := range updates {
			msg := u.Payload.(*Message)
			assert.True(t, msg.Seen)
			assert.ElementsMatch(t, []string{aliceConn, bobConn}, u.Conns)
			marked = append(marked, msg.Body)
		}
		assert.Equal(t, []string{"1", "2", "3"}, marked)
		for _, m := range f.history(bob, room, 0).Messages {
			assert.True(t, m.Seen, m.Body)
		}
	})

	t.Run("stops at the first seen message", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		bobConn := f.join(bob, room.ID)
		f.send(bobConn, "1")
		second := f.send(bobConn, "2")
		f.send(bobConn, "3")
		require.Nil(t, f.relay.MarkSeen(f.ctx, bobConn, MarkSeenInput{MessageID: second.ID, RoomID: room.ID}))
		f.emitter.reset()

		n, err := f.relay.MarkRoomSeen(f.ctx, alice.ID, room.ID)

		require.Nil(t, err)
		assert.Equal(t, 1, n)
		buffered := f.buffered(room)
		require.Len(t, buffered, 3)
		assert.True(t, buffered[0].Seen)
		assert.True(t, buffered[1].Seen)
		assert.False(t, buffered[2].Seen)
	})

	t.Run("stored seen message ends the run before the buffer", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		bobConn := f.join(bob, room.ID)
		first := f.send(bobConn, "1")
		require.Nil(t, f.relay.MarkSeen(f.ctx, bobConn, MarkSeenInput{MessageID: first.ID, RoomID: room.ID}))
		f.flush(room)
		f.send(bobConn, "2")

		n, err := f.relay.MarkRoomSeen(f.ctx, alice.ID, room.ID)

		require.Nil(t, err)
		assert.Equal(t, 0, n)
		assert.False(t, f.buffered(room)[0].Seen)
	})

	t.Run("rejected", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()

		_, err := f.relay.MarkRoomSeen(f.ctx, carol.ID, room.ID)
		assert.ErrorIs(t, err, ErrNotParticipant)
		_, err = f.relay.MarkRoomSeen(f.ctx, alice.ID, "random")
		assert.ErrorIs(t, err, ErrInvalidRoom)
	})
}

func TestTypingAndSignals(t *testing.T) {
	f, room := newPrivateRelay(t)
	defer f.tearDown()
	aliceConn := f.join(alice, room.ID)
	bobConn := f.join(bob, room.ID)

	require.Nil(t, f.relay.Typing(f.ctx, aliceConn, true))
	require.Nil(t, f.relay.Typing(f.ctx, aliceConn, false))

	typing := f.emitter.ofType(UserTypingEvent)
	require.Len(t, typing, 1)
	assert.Equal(t, []string{bobConn}, typing[0].Conns)
	assert.Equal(t, TypingPayload{UserID: alice.ID}, typing[0].Payload)
	assert.Len(t, f.emitter.ofType(UserStoppedTypingEvent), 1)

	offer := json.RawMessage(`{"sdp":"v=0"}`)
	require.Nil(t, f.relay.Signal(f.ctx, aliceConn, CallInitEvent, offer))

	calls := f.emitter.ofType(CallInitEvent)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{bobConn}, calls[0].Conns)
	signal := calls[0].Payload.(SignalPayload)
	assert.Equal(t, alice.ID, signal.From.UserID)
	assert.JSONEq(t, string(offer), string(signal.Payload))

	assert.ErrorIs(t, f.relay.Signal(f.ctx, aliceConn, "call_transfer", offer), ErrUnknownEvent)
	assert.ErrorIs(t, f.relay.Typing(f.ctx, "random", true), ErrNotJoined)
}

func TestLeave(t *testing.T) {
	f, room := newPrivateRelay(t)
	defer f.tearDown()
	aliceConn := f.join(alice, room.ID)
	bobConn := f.join(bob, room.ID)
	msg := f.send(aliceConn, "bye")
	f.emitter.reset()

	require.Nil(t, f.relay.Leave(f.ctx, aliceConn))

	presence := f.emitter.ofType(PresenceUpdatedEvent)
	require.Len(t, presence, 1)
	assert.Equal(t, []string{bobConn}, presence[0].Conns)
	assert.Equal(t, PresenceUpdatedPayload{Names: []string{"Bob"}}, presence[0].Payload)
	assert.Empty(t, f.buffered(room), "leaving flushes the room")
	stored, err := f.chatStore.GetMessage(f.ctx, msg.ID)
	require.Nil(t, err)
	assert.NotNil(t, stored)

	assert.Nil(t, f.relay.Leave(f.ctx, aliceConn), "leaving twice is a no-op")
}

func TestForward(t *testing.T) {
	t.Run("into a new private room", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		src, err := f.relay.SendFile(f.ctx, aliceConn, SendFileInput{AttachmentURL: "http://blob.test/attachments/a.png", Caption: "look"})
		require.Nil(t, err)

		fwd, err := f.relay.Forward(f.ctx, aliceConn, ForwardInput{MessageID: src.ID, ToUserID: carol.ID})

		require.Nil(t, err)
		assert.True(t, fwd.Forwarded)
		assert.NotEqual(t, src.ID, fwd.ID)
		assert.NotEqual(t, room.ID, fwd.RoomID)
		assert.Equal(t, src.AttachmentURL, fwd.AttachmentURL)
		assert.Equal(t, src.Caption, fwd.Caption)

		target, err := f.chatStore.GetRoomByID(f.ctx, fwd.RoomID)
		require.Nil(t, err)
		assert.ElementsMatch(t, []string{alice.ID, carol.ID}, target.Participants)
		assert.Equal(t, "📷 Image", target.Summary.LastMessageText)
	})

	t.Run("rejected forwards", func(t *testing.T) {
		f, room := newPrivateRelay(t)
		defer f.tearDown()
		aliceConn := f.join(alice, room.ID)
		src := f.send(aliceConn, "hi")

		_, err := f.relay.Forward(f.ctx, aliceConn, ForwardInput{MessageID: src.ID, ToUserID: "random"})
		assert.ErrorIs(t, err, ErrInvalidUser)
		_, err = f.relay.Forward(f.ctx, aliceConn, ForwardInput{MessageID: src.ID, ToUserID: alice.ID})
		assert.ErrorIs(t, err, ErrInvalidUser)
		_, err = f.relay.Forward(f.ctx, aliceConn, ForwardInput{MessageID: "random", ToUserID: carol.ID})
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestClearConversation(t *testing.T) {
	f, room := newPrivateRelay(t)
	defer f.tearDown()
	aliceConn := f.join(alice, room.ID)
	bobConn := f.join(bob, room.ID)
	f.send(aliceConn, "one")
	f.send(bobConn, "two")

	require.Nil(t, f.relay.ClearConversation(f.ctx, alice.ID, room.ID))

	assert.Empty(t, f.history(alice, room, 0).Messages)
	assert.Equal(t, []string{"one", "two"}, bodies(f.history(bob, room, 0).Messages))
	rooms, err := f.relay.Rooms(f.ctx, alice.ID)
	require.Nil(t, err)
	assert.Empty(t, rooms, "cleared rooms leave the room list")

	f.send(bobConn, "three")

	rooms, err = f.relay.Rooms(f.ctx, alice.ID)
	require.Nil(t, err)
	require.Len(t, rooms, 1, "a new message brings the room back")

	require.Nil(t, f.relay.ClearConversation(f.ctx, bob.ID, room.ID))

	assert.Equal(t, []string{"three"}, bodies(f.history(alice, room, 0).Messages))
	assert.Empty(t, f.history(bob, room, 0).Messages)
	stored, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, carol.ID, 0, PageSize)
	require.Nil(t, err)
	assert.Len(t, stored, 1, "messages hidden by both are erased")
	assert.Equal(t, "three", f.summary(room.ID).LastMessageText)
}
