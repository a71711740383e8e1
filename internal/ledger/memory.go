package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryLedger implements Ledger with in-memory maps. Transactions run
// serially under one mutex against a deep copy of the state; the copy is
// swapped in on commit and discarded on rollback, so a failed transaction
// leaves no partial writes. Ideal for development and tests; data is lost on
// restart.
type MemoryLedger struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	tags       map[string]*Tag
	posts      map[string]Post
	activities map[string]Activity
	// owner id -> set of tag ids, per owner kind
	links map[OwnerKind]map[string]map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		tags:       make(map[string]*Tag),
		posts:      make(map[string]Post),
		activities: make(map[string]Activity),
		links: map[OwnerKind]map[string]map[string]struct{}{
			OwnerPost:     {},
			OwnerActivity: {},
		},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for id, tag := range s.tags {
		tagCopy := *tag
		c.tags[id] = &tagCopy
	}
	for id, p := range s.posts {
		c.posts[id] = p
	}
	for id, a := range s.activities {
		c.activities[id] = a
	}
	for kind, owners := range s.links {
		for ownerID, tagIDs := range owners {
			set := make(map[string]struct{}, len(tagIDs))
			for tagID := range tagIDs {
				set[tagID] = struct{}{}
			}
			c.links[kind][ownerID] = set
		}
	}
	return c
}

// InTx serializes transactions under the ledger mutex. fn operates on a
// cloned state that becomes visible only on commit.
func (m *MemoryLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := m.state.clone()
	if err := fn(ctx, &memoryTx{state: staged}); err != nil {
		return err
	}

	m.state = staged
	return nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryLedger) Ping(_ context.Context) error {
	return nil
}

// Close drops all data.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemoryState()
	return nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) TagsForOwner(_ context.Context, kind OwnerKind, ownerID string) ([]*Tag, error) {
	var tags []*Tag
	for tagID := range t.state.links[kind][ownerID] {
		if tag, ok := t.state.tags[tagID]; ok {
			tagCopy := *tag
			tags = append(tags, &tagCopy)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Slug < tags[j].Slug })
	return tags, nil
}

func (t *memoryTx) FindTagBySlugOrName(_ context.Context, slug, name string) (*Tag, error) {
	var byName *Tag
	for _, tag := range t.state.tags {
		if tag.Slug == slug {
			tagCopy := *tag
			return &tagCopy, nil
		}
		if byName == nil && tag.Name == name {
			tagCopy := *tag
			byName = &tagCopy
		}
	}
	return byName, nil
}

func (t *memoryTx) CreateTag(_ context.Context, tag *Tag) error {
	now := time.Now()
	tagCopy := *tag
	if tagCopy.CreatedAt.IsZero() {
		tagCopy.CreatedAt = now
	}
	tagCopy.UpdatedAt = now
	t.state.tags[tag.ID] = &tagCopy
	return nil
}

func (t *memoryTx) Link(_ context.Context, kind OwnerKind, ownerID, tagID string) error {
	owners := t.state.links[kind]
	if owners[ownerID] == nil {
		owners[ownerID] = make(map[string]struct{})
	}
	owners[ownerID][tagID] = struct{}{}
	return nil
}

func (t *memoryTx) Unlink(_ context.Context, kind OwnerKind, ownerID string, tagIDs []string) error {
	set := t.state.links[kind][ownerID]
	for _, tagID := range tagIDs {
		delete(set, tagID)
	}
	return nil
}

func (t *memoryTx) LiveOwnerCount(_ context.Context, kind OwnerKind, tagID string) (int, error) {
	count := 0
	for ownerID, tagIDs := range t.state.links[kind] {
		if _, linked := tagIDs[tagID]; !linked {
			continue
		}
		switch kind {
		case OwnerPost:
			if p, ok := t.state.posts[ownerID]; ok && p.Published {
				count++
			}
		case OwnerActivity:
			if a, ok := t.state.activities[ownerID]; ok && a.DeletedAt == nil {
				count++
			}
		}
	}
	return count, nil
}

func (t *memoryTx) UpdateTagCounts(_ context.Context, tagID string, postsCount, activitiesCount int) error {
	tag, ok := t.state.tags[tagID]
	if !ok {
		return ErrNotFound
	}
	tag.PostsCount = postsCount
	tag.ActivitiesCount = activitiesCount
	tag.UpdatedAt = time.Now()
	return nil
}

func (t *memoryTx) Tags(_ context.Context) ([]*Tag, error) {
	tags := make([]*Tag, 0, len(t.state.tags))
	for _, tag := range t.state.tags {
		tagCopy := *tag
		tags = append(tags, &tagCopy)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Slug < tags[j].Slug })
	return tags, nil
}

func (t *memoryTx) SearchTags(ctx context.Context, query string, limit int) ([]*Tag, error) {
	all, err := t.Tags(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var matched []*Tag
	for _, tag := range all {
		if query == "" ||
			strings.Contains(strings.ToLower(tag.Name), query) ||
			strings.Contains(tag.Slug, query) {
			matched = append(matched, tag)
		}
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (t *memoryTx) OrphanAssociations(_ context.Context) ([]OrphanAssociation, error) {
	var orphans []OrphanAssociation
	for kind, owners := range t.state.links {
		for ownerID, tagIDs := range owners {
			ownerExists := false
			switch kind {
			case OwnerPost:
				_, ownerExists = t.state.posts[ownerID]
			case OwnerActivity:
				_, ownerExists = t.state.activities[ownerID]
			}
			for tagID := range tagIDs {
				if !ownerExists {
					orphans = append(orphans, OrphanAssociation{
						OwnerKind: kind, OwnerID: ownerID, TagID: tagID, Reason: "missing-owner",
					})
				}
				if _, ok := t.state.tags[tagID]; !ok {
					orphans = append(orphans, OrphanAssociation{
						OwnerKind: kind, OwnerID: ownerID, TagID: tagID, Reason: "missing-tag",
					})
				}
			}
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].OwnerID != orphans[j].OwnerID {
			return orphans[i].OwnerID < orphans[j].OwnerID
		}
		return orphans[i].TagID < orphans[j].TagID
	})
	return orphans, nil
}

func (t *memoryTx) SavePost(_ context.Context, post Post) error {
	t.state.posts[post.ID] = post
	return nil
}

func (t *memoryTx) SaveActivity(_ context.Context, activity Activity) error {
	t.state.activities[activity.ID] = activity
	return nil
}

// DeleteTag removes a tag row without touching association rows. Exposed on
// the memory ledger only, for exercising orphan detection in tests.
func (m *MemoryLedger) DeleteTag(tagID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.tags, tagID)
}
