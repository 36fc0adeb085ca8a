package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

type docKey struct {
	coll feed.Collection
	id   string
}

type versioned[T any] struct {
	val T
	ver uint64
}

// MemoryRepository хранит данные в памяти и выполняет оптимистичные транзакции.
// Транзакция запоминает версии прочитанных записей и фиксируется, только если они не изменились.
type MemoryRepository struct {
	opts   Options
	broker *feed.Broker

	clockMu sync.Mutex
	clock   time.Time

	mu            sync.RWMutex
	seq           uint64
	members       map[string]versioned[model.Member]
	credentials   map[string]model.Credential
	logs          map[string][]model.LogEntry
	requests      map[string]versioned[model.SpendRequest]
	officers      map[string]versioned[model.Officer]
	announcements []model.Announcement
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository(opts Options) *MemoryRepository {
	return &MemoryRepository{
		opts:        opts.withDefaults(),
		broker:      feed.NewBroker(),
		members:     make(map[string]versioned[model.Member]),
		credentials: make(map[string]model.Credential),
		logs:        make(map[string][]model.LogEntry),
		requests:    make(map[string]versioned[model.SpendRequest]),
		officers:    make(map[string]versioned[model.Officer]),
	}
}

// Close ничего не делает: ресурсов нет.
func (r *MemoryRepository) Close() error {
	return nil
}

// Broker возвращает брокер изменений хранилища.
func (r *MemoryRepository) Broker() *feed.Broker {
	return r.broker
}

// Listen блокируется до отмены контекста: изменения публикуются прямо при фиксации.
func (r *MemoryRepository) Listen(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// RunInTx выполняет fn атомарно, повторяя её при конфликте версий.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn TxFunc) error {
	return withRetry(ctx, r.opts, isConflict, func() error {
		tx := r.begin()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		changes, err := r.commit(tx)
		if err != nil {
			return err
		}
		r.broker.Publish(changes...)
		return nil
	})
}

// now выдаёт монотонно возрастающее время с точностью до микросекунды.
func (r *MemoryRepository) now() time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()

	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(r.clock) {
		t = r.clock.Add(time.Microsecond)
	}
	r.clock = t
	return t
}

func (r *MemoryRepository) begin() *memTx {
	return &memTx{
		repo:        r,
		now:         r.now(),
		reads:       make(map[docKey]uint64),
		members:     make(map[string]model.Member),
		newMembers:  make(map[string]bool),
		requests:    make(map[string]model.SpendRequest),
		newRequests: make(map[string]bool),
		officers:    make(map[string]model.Officer),
	}
}

// version возвращает версию записи или 0, если записи нет. Вызывается под r.mu.
func (r *MemoryRepository) version(k docKey) uint64 {
	switch k.coll {
	case feed.Members:
		return r.members[k.id].ver
	case feed.SpendRequests:
		return r.requests[k.id].ver
	case feed.Officers:
		return r.officers[k.id].ver
	}
	return 0
}

func (r *MemoryRepository) commit(tx *memTx) ([]feed.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, ver := range tx.reads {
		if r.version(k) != ver {
			return nil, ErrConflict
		}
	}
	for _, c := range tx.credentials {
		if _, ok := r.credentials[c.Canonical]; ok {
			return nil, model.ErrHandleTaken
		}
	}
	for id := range tx.newMembers {
		if _, ok := r.members[id]; ok {
			return nil, ErrConflict
		}
	}
	for id := range tx.newRequests {
		if _, ok := r.requests[id]; ok {
			return nil, ErrConflict
		}
	}

	var changes []feed.Change

	for _, c := range tx.credentials {
		r.credentials[c.Canonical] = c
	}
	for id, m := range tx.members {
		r.seq++
		r.members[id] = versioned[model.Member]{val: m, ver: r.seq}
		changes = append(changes, feed.Change{Collection: feed.Members, ID: id, MemberID: id})
	}
	for _, e := range tx.logs {
		r.logs[e.MemberID] = insertByTime(r.logs[e.MemberID], e, logTime)
		changes = append(changes, feed.Change{Collection: feed.Logs, ID: e.ID, MemberID: e.MemberID})
	}
	for id, sr := range tx.requests {
		r.seq++
		r.requests[id] = versioned[model.SpendRequest]{val: sr, ver: r.seq}
		changes = append(changes, feed.Change{Collection: feed.SpendRequests, ID: id, MemberID: sr.MemberID})
	}
	for id, o := range tx.officers {
		r.seq++
		r.officers[id] = versioned[model.Officer]{val: o, ver: r.seq}
		changes = append(changes, feed.Change{Collection: feed.Officers, ID: id, MemberID: id})
	}
	for _, a := range tx.announcements {
		r.announcements = insertByTime(r.announcements, a, announcementTime)
		changes = append(changes, feed.Change{Collection: feed.Announcements, ID: a.ID})
	}

	return changes, nil
}

// GetCredential возвращает учётные данные по каноничному логину.
func (r *MemoryRepository) GetCredential(ctx context.Context, canonical string) (*model.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.credentials[canonical]
	if !ok {
		return nil, model.ErrInvalidCredentials
	}
	return &c, nil
}

// GetMember возвращает участника по идентификатору.
func (r *MemoryRepository) GetMember(ctx context.Context, id string) (*model.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return nil, model.ErrMemberNotFound
	}
	cp := m.val
	return &cp, nil
}

// GetOfficer возвращает запись реестра офицеров.
func (r *MemoryRepository) GetOfficer(ctx context.Context, memberID string) (*model.Officer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.officers[memberID]
	if !ok {
		return nil, model.ErrOfficerNotFound
	}
	cp := o.val
	return &cp, nil
}

// ListMembers возвращает участников, упорядоченных по логину.
func (r *MemoryRepository) ListMembers(ctx context.Context, limit int) ([]model.Member, error) {
	r.mu.RLock()
	out := make([]model.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.val)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return lowerLess(out[i].Handle, out[j].Handle)
	})
	return truncate(out, limit), nil
}

// ListLogs возвращает журнал участника, новые записи первыми.
func (r *MemoryRepository) ListLogs(ctx context.Context, memberID string, limit int) ([]model.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := r.logs[memberID]
	out := make([]model.LogEntry, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		out = append(out, logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListSpendRequests возвращает заявки по фильтру, новые первыми.
func (r *MemoryRepository) ListSpendRequests(ctx context.Context, f RequestFilter) ([]model.SpendRequest, error) {
	r.mu.RLock()
	out := make([]model.SpendRequest, 0)
	for _, sr := range r.requests {
		if f.Status != "" && sr.val.Status != f.Status {
			continue
		}
		if f.MemberID != "" && sr.val.MemberID != f.MemberID {
			continue
		}
		out = append(out, sr.val)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, f.Limit), nil
}

// ListAnnouncements возвращает объявления, новые первыми.
func (r *MemoryRepository) ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Announcement, 0, len(r.announcements))
	for i := len(r.announcements) - 1; i >= 0; i-- {
		out = append(out, r.announcements[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LedgerTotals возвращает баланс и сумму журнала каждого участника.
func (r *MemoryRepository) LedgerTotals(ctx context.Context) ([]model.LedgerTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.LedgerTotals, 0, len(r.members))
	for id, m := range r.members {
		var sum int64
		for _, e := range r.logs[id] {
			sum += e.Signed()
		}
		out = append(out, model.LedgerTotals{
			MemberID: id,
			Handle:   m.val.Handle,
			Balance:  m.val.Balance,
			LogSum:   sum,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

// memTx буферизует записи до фиксации; чтения видят собственные записи транзакции.
type memTx struct {
	repo *MemoryRepository
	now  time.Time

	reads map[docKey]uint64

	members       map[string]model.Member
	newMembers    map[string]bool
	requests      map[string]model.SpendRequest
	newRequests   map[string]bool
	officers      map[string]model.Officer
	logs          []model.LogEntry
	credentials   []model.Credential
	announcements []model.Announcement
}

func (t *memTx) Now() time.Time {
	return t.now
}

// track запоминает версию записи при первом чтении.
func (t *memTx) track(k docKey, ver uint64) {
	if _, ok := t.reads[k]; !ok {
		t.reads[k] = ver
	}
}

func (t *memTx) GetMember(ctx context.Context, id string) (*model.Member, error) {
	if m, ok := t.members[id]; ok {
		return &m, nil
	}

	t.repo.mu.RLock()
	m, ok := t.repo.members[id]
	t.repo.mu.RUnlock()

	t.track(docKey{feed.Members, id}, m.ver)
	if !ok {
		return nil, model.ErrMemberNotFound
	}
	cp := m.val
	return &cp, nil
}

func (t *memTx) CreateMember(ctx context.Context, m model.Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now
	}
	t.members[m.ID] = m
	t.newMembers[m.ID] = true
	return nil
}

func (t *memTx) UpdateMember(ctx context.Context, m model.Member) error {
	if m.Balance < 0 {
		return model.ErrWouldGoNegative
	}
	t.members[m.ID] = m
	return nil
}

func (t *memTx) AppendLog(ctx context.Context, e model.LogEntry) (model.LogEntry, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = t.now
	t.logs = append(t.logs, e)
	return e, nil
}

func (t *memTx) CreateCredential(ctx context.Context, c model.Credential) error {
	t.repo.mu.RLock()
	_, exists := t.repo.credentials[c.Canonical]
	t.repo.mu.RUnlock()
	if exists {
		return model.ErrHandleTaken
	}
	for _, pending := range t.credentials {
		if pending.Canonical == c.Canonical {
			return model.ErrHandleTaken
		}
	}

	c.CreatedAt = t.now
	t.credentials = append(t.credentials, c)
	return nil
}

func (t *memTx) GetSpendRequest(ctx context.Context, id string) (*model.SpendRequest, error) {
	if sr, ok := t.requests[id]; ok {
		return &sr, nil
	}

	t.repo.mu.RLock()
	sr, ok := t.repo.requests[id]
	t.repo.mu.RUnlock()

	t.track(docKey{feed.SpendRequests, id}, sr.ver)
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	cp := sr.val
	return &cp, nil
}

func (t *memTx) CreateSpendRequest(ctx context.Context, sr model.SpendRequest) (model.SpendRequest, error) {
	sr.ID = uuid.NewString()
	sr.CreatedAt = t.now
	t.requests[sr.ID] = sr
	t.newRequests[sr.ID] = true
	return sr, nil
}

func (t *memTx) UpdateSpendRequest(ctx context.Context, sr model.SpendRequest) error {
	t.requests[sr.ID] = sr
	return nil
}

func (t *memTx) GetOfficer(ctx context.Context, memberID string) (*model.Officer, error) {
	if o, ok := t.officers[memberID]; ok {
		return &o, nil
	}

	t.repo.mu.RLock()
	o, ok := t.repo.officers[memberID]
	t.repo.mu.RUnlock()

	t.track(docKey{feed.Officers, memberID}, o.ver)
	if !ok {
		return nil, model.ErrOfficerNotFound
	}
	cp := o.val
	return &cp, nil
}

func (t *memTx) PutOfficer(ctx context.Context, o model.Officer) error {
	t.officers[o.MemberID] = o
	return nil
}

func (t *memTx) CreateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	a.ID = uuid.NewString()
	a.CreatedAt = t.now
	t.announcements = append(t.announcements, a)
	return a, nil
}

// insertByTime вставляет v так, чтобы срез оставался упорядоченным по времени создания.
// Транзакция, начатая раньше, может зафиксироваться позже соседней.
func insertByTime[T any](s []T, v T, at func(T) time.Time) []T {
	i := sort.Search(len(s), func(i int) bool { return at(s[i]).After(at(v)) })
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func logTime(e model.LogEntry) time.Time { return e.CreatedAt }

func announcementTime(a model.Announcement) time.Time { return a.CreatedAt }

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func lowerLess(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
