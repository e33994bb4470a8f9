package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	a, b string
}

type memState struct {
	titles          map[string]string
	items           map[string]*ContentItem
	questions       map[string][]*QuizQuestion
	assignments     map[pairKey]*Assignment
	contentProgress map[pairKey]*ContentProgress
	progress        map[pairKey]*TrainingProgress
}

// memRepository in-memory Repository. Transactions run concurrently; LockAssignment takes a
// per-(user, training) row lock held until the transaction ends, and every write checks that the
// writing transaction holds it. A failed transaction is undone from its undo log.
type memRepository struct {
	mu     sync.Mutex
	state  *memState
	locks  map[pairKey]*sync.Mutex
	seq    int
	failOn string
	// afterLock is called inside every transaction right after the row lock is taken
	afterLock func(userID, trainingID string)
}

func newMemRepository() *memRepository {
	return &memRepository{
		state: &memState{
			titles:          map[string]string{},
			items:           map[string]*ContentItem{},
			questions:       map[string][]*QuizQuestion{},
			assignments:     map[pairKey]*Assignment{},
			contentProgress: map[pairKey]*ContentProgress{},
			progress:        map[pairKey]*TrainingProgress{},
		},
		locks: map[pairKey]*sync.Mutex{},
	}
}

func (r *memRepository) addTraining(id string, items int) {
	r.state.titles[id] = "Training " + id
	for i := 1; i <= items; i++ {
		itemID := fmt.Sprintf("%s-c%d", id, i)
		r.state.items[itemID] = &ContentItem{ID: itemID, TrainingID: id, Position: i}
	}
}

func (r *memRepository) addQuestion(trainingID, id string, key *string) {
	qs := r.state.questions[trainingID]
	r.state.questions[trainingID] = append(qs, &QuizQuestion{ID: id, TrainingID: trainingID, Position: len(qs) + 1, CorrectAnswer: key})
}

func (r *memRepository) assign(userID, trainingID string) {
	r.state.assignments[pairKey{userID, trainingID}] = &Assignment{UserID: userID, TrainingID: trainingID}
}

func (r *memRepository) contentRows(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.state.contentProgress {
		if k.a == userID {
			n++
		}
	}
	return n
}

func (r *memRepository) assignment(userID, trainingID string) Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state.assignments[pairKey{userID, trainingID}]
}

func (r *memRepository) stored(userID, trainingID string) *TrainingProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.progress[pairKey{userID, trainingID}]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *memRepository) rowLock(k pairKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[k]
	if !ok {
		m = new(sync.Mutex)
		r.locks[k] = m
	}
	return m
}

func (r *memRepository) InTx(ctx context.Context, fn func(tx TxRepository) error) error {
	tx := &memTx{repo: r, held: map[pairKey]*sync.Mutex{}}
	defer tx.release()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (r *memRepository) GetAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	return (&memTx{repo: r}).GetAssignment(ctx, userID, trainingID)
}

func (r *memRepository) GetTrainingProgress(ctx context.Context, userID, trainingID string) (*TrainingProgress, error) {
	return (&memTx{repo: r}).GetTrainingProgress(ctx, userID, trainingID)
}

func (r *memRepository) ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error) {
	return (&memTx{repo: r}).ListUserProgress(ctx, userID)
}

func (r *memRepository) ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error) {
	return (&memTx{repo: r}).ListContentProgress(ctx, userID, trainingID)
}

// memTx one transaction, every method takes repo.mu for the duration of the call
type memTx struct {
	repo *memRepository
	held map[pairKey]*sync.Mutex
	undo []func()
}

var _ TxRepository = &memTx{}

func (tx *memTx) release() {
	for _, m := range tx.held {
		m.Unlock()
	}
	tx.held = nil
}

func (tx *memTx) rollback() {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// mustHold rejects writes outside the row lock of (userID, trainingID), repo.mu must be held
func (tx *memTx) mustHold(op, userID, trainingID string) error {
	if _, ok := tx.held[pairKey{userID, trainingID}]; !ok {
		return fmt.Errorf("%s: row lock of (%s, %s) not held", op, userID, trainingID)
	}
	return nil
}

func (tx *memTx) fail(op string) error {
	if tx.repo.failOn == op {
		return &StoreError{Op: op, Err: fmt.Errorf("%s failed", op)}
	}
	return nil
}

func (tx *memTx) nextID(prefix string) string {
	tx.repo.seq++
	return fmt.Sprintf("%s-%d", prefix, tx.repo.seq)
}

func (tx *memTx) LockAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	if err := tx.fail("lock"); err != nil {
		return nil, err
	}
	k := pairKey{userID, trainingID}
	if _, ok := tx.held[k]; !ok {
		m := tx.repo.rowLock(k)
		m.Lock()
		tx.held[k] = m
	}
	if tx.repo.afterLock != nil {
		tx.repo.afterLock(userID, trainingID)
	}
	return tx.GetAssignment(ctx, userID, trainingID)
}

func (tx *memTx) GetAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	a, ok := tx.repo.state.assignments[pairKey{userID, trainingID}]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (tx *memTx) GetContentItem(ctx context.Context, contentItemID string) (*ContentItem, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item, ok := tx.repo.state.items[contentItemID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (tx *memTx) InsertContentProgress(ctx context.Context, record *ContentProgress) (bool, error) {
	if err := tx.fail("insert"); err != nil {
		return false, err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item, ok := tx.repo.state.items[record.ContentItemID]
	if !ok {
		return false, fmt.Errorf("insert: unknown content item %s", record.ContentItemID)
	}
	if err := tx.mustHold("insert", record.UserID, item.TrainingID); err != nil {
		return false, err
	}

	k := pairKey{record.UserID, record.ContentItemID}
	if _, ok := tx.repo.state.contentProgress[k]; ok {
		return false, nil
	}
	cp := *record
	cp.ID = tx.nextID("cp")
	tx.repo.state.contentProgress[k] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.repo.state.contentProgress, k) })
	return true, nil
}

func (tx *memTx) updateAssignment(op, userID, trainingID string, update func(a *Assignment)) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if err := tx.mustHold(op, userID, trainingID); err != nil {
		return err
	}
	a := tx.repo.state.assignments[pairKey{userID, trainingID}]
	if a == nil {
		return nil
	}
	prev := *a
	update(a)
	tx.undo = append(tx.undo, func() { *a = prev })
	return nil
}

func (tx *memTx) MarkAssignmentStarted(ctx context.Context, userID, trainingID string, at time.Time) error {
	return tx.updateAssignment("start", userID, trainingID, func(a *Assignment) {
		if a.StartedAt == nil {
			a.StartedAt = &at
		}
	})
}

func (tx *memTx) MarkAssignmentCompleted(ctx context.Context, userID, trainingID string, at time.Time) error {
	if err := tx.fail("complete"); err != nil {
		return err
	}
	return tx.updateAssignment("complete", userID, trainingID, func(a *Assignment) {
		if a.CompletedAt == nil {
			a.CompletedAt = &at
		}
	})
}

func (tx *memTx) CountContent(ctx context.Context, userID, trainingID string) (int, int, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	completed, total := 0, 0
	for id, item := range tx.repo.state.items {
		if item.TrainingID != trainingID {
			continue
		}
		total++
		if _, ok := tx.repo.state.contentProgress[pairKey{userID, id}]; ok {
			completed++
		}
	}
	return completed, total, nil
}

func (tx *memTx) ListQuizQuestions(ctx context.Context, trainingID string) ([]*QuizQuestion, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	return tx.repo.state.questions[trainingID], nil
}

func (tx *memTx) GetTrainingProgress(ctx context.Context, userID, trainingID string) (*TrainingProgress, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	p, ok := tx.repo.state.progress[pairKey{userID, trainingID}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// putProgress stores p under its key and logs the previous row for rollback, repo.mu must be held
func (tx *memTx) putProgress(p *TrainingProgress) {
	k := pairKey{p.UserID, p.TrainingID}
	prev, existed := tx.repo.state.progress[k]
	tx.repo.state.progress[k] = p
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.repo.state.progress[k] = prev
		} else {
			delete(tx.repo.state.progress, k)
		}
	})
}

func (tx *memTx) SaveProgress(ctx context.Context, p *TrainingProgress) error {
	if err := tx.fail("save"); err != nil {
		return err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if err := tx.mustHold("save", p.UserID, p.TrainingID); err != nil {
		return err
	}

	var next TrainingProgress
	if cur, ok := tx.repo.state.progress[pairKey{p.UserID, p.TrainingID}]; ok {
		next = *cur
		next.ProgressPercent = p.ProgressPercent
		next.Status = p.Status
		next.UpdatedAt = p.UpdatedAt
	} else {
		next = *p
		next.ID = tx.nextID("tp")
	}
	tx.putProgress(&next)
	return nil
}

func (tx *memTx) SaveCompletion(ctx context.Context, p *TrainingProgress) error {
	if err := tx.fail("save"); err != nil {
		return err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if err := tx.mustHold("save", p.UserID, p.TrainingID); err != nil {
		return err
	}

	cp := *p
	if cp.ID == "" {
		cp.ID = tx.nextID("tp")
	}
	tx.putProgress(&cp)
	return nil
}

func (tx *memTx) ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	var result []*TrainingOverview
	for k := range tx.repo.state.assignments {
		if k.a != userID {
			continue
		}
		item := &TrainingOverview{TrainingID: k.b, Title: tx.repo.state.titles[k.b]}
		if p, ok := tx.repo.state.progress[k]; ok {
			item.ProgressPercent = p.ProgressPercent
			item.Score = p.Score
			item.CompletedAt = p.CompletedAt
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return result, nil
}

func (tx *memTx) ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	var result []*ContentStatus
	for id, item := range tx.repo.state.items {
		if item.TrainingID != trainingID {
			continue
		}
		status := &ContentStatus{ContentItemID: id, Position: item.Position}
		if cp, ok := tx.repo.state.contentProgress[pairKey{userID, id}]; ok {
			at := cp.CompletedAt
			status.Completed = true
			status.CompletedAt = &at
		}
		result = append(result, status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

type notification struct {
	UserID    string
	EventType string
	Payload   interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, userID string, eventType string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{userID, eventType, payload})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fixedClock returns a clock that advances by one second on every call
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func strPtr(s string) *string {
	return &s
}
