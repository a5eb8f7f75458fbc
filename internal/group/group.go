// Package group implements Communitas's group messaging surface: groups
// of four-word identities exchanging typed messages, reactions, and
// replies, held in memory; nothing here is stored through the container.
package group

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saorsalabs/communitas/internal/errkind"
)

// Group is a named collection of four-word member addresses.
type Group struct {
	ID          string
	Name        string
	Description string
	Admin       string
	Members     []string
	CreatedAt   int64
	UpdatedAt   int64
}

// ContentKind discriminates MessageContent's variants.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentImage     ContentKind = "image"
	ContentFile      ContentKind = "file"
	ContentVoiceNote ContentKind = "voice_note"
	ContentSystem    ContentKind = "system"
)

// MessageContent is the tagged union of a group message's payload. Only
// the fields relevant to Kind are populated.
type MessageContent struct {
	Kind     ContentKind
	Text     string
	Hash     string // object-store oid, for Image/File/VoiceNote
	Caption  string
	MIMEType string
	Filename string
	Size     uint64
	Duration uint32 // seconds, for VoiceNote
	Message  string // for System
}

// Reaction tallies which members reacted with a given emoji.
type Reaction struct {
	Emoji string
	Users []string
}

// Message is one entry in a group's timeline.
type Message struct {
	ID         string
	GroupID    string
	Sender     string
	SenderName string
	Content    MessageContent
	TimestampMS int64
	ReplyTo    string // empty if not a reply
	Reactions  []Reaction
	Edited     bool
	EditedAtMS int64
}

// Manager holds groups, their messages, and the per-user group index in
// memory only; they are not persisted, and every command handler
// consults this index directly.
type Manager struct {
	mu         sync.RWMutex
	groups     map[string]*Group
	messages   map[string][]Message
	userGroups map[string][]string
	now        func() time.Time
}

func New() *Manager {
	return &Manager{
		groups:     make(map[string]*Group),
		messages:   make(map[string][]Message),
		userGroups: make(map[string][]string),
		now:        time.Now,
	}
}

func NewWithClock(now func() time.Time) *Manager {
	m := New()
	m.now = now
	return m
}

func (m *Manager) CreateGroup(name, description, admin string) *Group {
	return m.CreateGroupWithID(uuid.New().String(), name, description, admin)
}

// CreateGroupWithID is CreateGroup with an externally chosen id, for
// callers (e.g. the command surface's group.create, which derives a
// four-word group handle the same way identity.Claim derives an
// identity id) that need the id fixed ahead of insertion rather than
// generated fresh.
func (m *Manager) CreateGroupWithID(id, name, description, admin string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().Unix()
	g := &Group{
		ID:          id,
		Name:        name,
		Description: description,
		Admin:       admin,
		Members:     []string{admin},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	m.groups[g.ID] = g
	m.userGroups[admin] = append(m.userGroups[admin], g.ID)
	m.messages[g.ID] = nil
	return g
}

func (m *Manager) AddMember(groupID, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return errkind.New(errkind.NotFound, "group.add_member", errGroupNotFound)
	}
	for _, existing := range g.Members {
		if existing == member {
			return nil
		}
	}
	g.Members = append(g.Members, member)
	g.UpdatedAt = m.now().Unix()
	m.userGroups[member] = append(m.userGroups[member], groupID)
	return nil
}

func (m *Manager) RemoveMember(groupID, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return errkind.New(errkind.NotFound, "group.remove_member", errGroupNotFound)
	}
	g.Members = removeString(g.Members, member)
	g.UpdatedAt = m.now().Unix()
	m.userGroups[member] = removeString(m.userGroups[member], groupID)
	return nil
}

func removeString(list []string, target string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func isMember(g *Group, user string) bool {
	for _, m := range g.Members {
		if m == user {
			return true
		}
	}
	return false
}

// SendMessage appends a message to groupID's timeline; sender must be
// a current member.
func (m *Manager) SendMessage(groupID, sender, senderName string, content MessageContent, replyTo string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return Message{}, errkind.New(errkind.NotFound, "group.send_message", errGroupNotFound)
	}
	if !isMember(g, sender) {
		return Message{}, errkind.New(errkind.Access, "group.send_message", errNotMember)
	}
	msg := Message{
		ID:          uuid.New().String(),
		GroupID:     groupID,
		Sender:      sender,
		SenderName:  senderName,
		Content:     content,
		TimestampMS: m.now().UnixMilli(),
		ReplyTo:     replyTo,
	}
	m.messages[groupID] = append(m.messages[groupID], msg)
	return msg, nil
}

// GetMessages returns up to limit messages older than before (or the
// most recent limit if before is zero), in chronological order.
func (m *Manager) GetMessages(groupID string, limit int, before int64) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all, ok := m.messages[groupID]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "group.get_messages", errGroupNotFound)
	}

	var filtered []Message
	for i := len(all) - 1; i >= 0 && len(filtered) < limit; i-- {
		if before != 0 && all[i].TimestampMS >= before {
			continue
		}
		filtered = append(filtered, all[i])
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TimestampMS < filtered[j].TimestampMS
	})
	return filtered, nil
}

// AddReaction folds user's emoji reaction into messageID, across
// whichever group it belongs to.
func (m *Manager) AddReaction(messageID, emoji, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for groupID, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			for j := range msgs[i].Reactions {
				if msgs[i].Reactions[j].Emoji == emoji {
					if !containsString(msgs[i].Reactions[j].Users, user) {
						msgs[i].Reactions[j].Users = append(msgs[i].Reactions[j].Users, user)
					}
					m.messages[groupID] = msgs
					return nil
				}
			}
			msgs[i].Reactions = append(msgs[i].Reactions, Reaction{Emoji: emoji, Users: []string{user}})
			m.messages[groupID] = msgs
			return nil
		}
	}
	return errkind.New(errkind.NotFound, "group.add_reaction", errMessageNotFound)
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func (m *Manager) UserGroups(user string) []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.userGroups[user]
	out := make([]Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.groups[id]; ok {
			out = append(out, *g)
		}
	}
	return out
}

func (m *Manager) Group(groupID string) (Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return Group{}, errkind.New(errkind.NotFound, "group.get_group", errGroupNotFound)
	}
	return *g, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const (
	errGroupNotFound   = simpleErr("group: not found")
	errNotMember       = simpleErr("group: sender is not a member")
	errMessageNotFound = simpleErr("group: message not found")
)
