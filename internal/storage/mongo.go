package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/tasks"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoListsCollection    = "lists"
	mongoBindingsCollection = "user_bindings"
	mongoUpdateAttempts     = 8
)

var errMongoConflict = errors.New("concurrent modification")

// MongoStore keeps one document per list with the active and completed tasks
// embedded, so completion is a single-document update. Each embedded task
// carries a rev counter for optimistic concurrency.
type MongoStore struct {
	client   *mongo.Client
	lists    *mongo.Collection
	bindings *mongo.Collection
}

type mongoList struct {
	ID        string      `bson:"_id"`
	CreatedAt time.Time   `bson:"created_at"`
	Members   []string    `bson:"members"`
	Tasks     []mongoTask `bson:"tasks"`
	Completed []mongoTask `bson:"completed"`
}

type mongoTask struct {
	ID            string     `bson:"id"`
	Rev           int64      `bson:"rev"`
	Title         string     `bson:"title"`
	Description   string     `bson:"description"`
	Status        string     `bson:"status"`
	CreatedAt     time.Time  `bson:"created_at"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
	ReminderAt    *time.Time `bson:"reminder_at,omitempty"`
	ReminderFired bool       `bson:"reminder_fired"`
}

type mongoBinding struct {
	UserID    string    `bson:"_id"`
	ListID    string    `bson:"list_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore connects to uri and uses database db.
func NewMongoStore(ctx context.Context, uri, db string) (*MongoStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}
	if strings.TrimSpace(db) == "" {
		db = "taskbot"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	database := client.Database(db)
	s := &MongoStore{
		client:   client,
		lists:    database.Collection(mongoListsCollection),
		bindings: database.Collection(mongoBindingsCollection),
	}
	if _, err := s.lists.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tasks.reminder_fired", Value: 1}, {Key: "tasks.reminder_at", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create reminder index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Lists & Bindings ---

func (s *MongoStore) CreateList(ctx context.Context) (string, error) {
	doc := mongoList{
		ID:        NewID(),
		CreatedAt: tasks.Truncate(time.Now()),
		Members:   []string{},
		Tasks:     []mongoTask{},
		Completed: []mongoTask{},
	}
	if _, err := s.lists.InsertOne(ctx, doc); err != nil {
		return "", repoErr("create list", err)
	}
	return doc.ID, nil
}

func (s *MongoStore) BindUser(ctx context.Context, userID, listID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &tasks.ValidationError{Field: "user", Reason: "user id is empty"}
	}
	if err := s.requireList(ctx, listID); err != nil {
		return err
	}
	_, err := s.bindings.InsertOne(ctx, mongoBinding{UserID: userID, ListID: listID, CreatedAt: tasks.Truncate(time.Now())})
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return repoErr("bind user", err)
		}
		existing, lookupErr := s.ListForUser(ctx, userID)
		if lookupErr != nil {
			return lookupErr
		}
		if existing != listID {
			return fmt.Errorf("user %s is already bound to list %s", userID, existing)
		}
	}
	_, err = s.lists.UpdateOne(ctx, bson.M{"_id": listID}, bson.M{"$addToSet": bson.M{"members": userID}})
	return repoErr("bind user", err)
}

func (s *MongoStore) ListForUser(ctx context.Context, userID string) (string, error) {
	var b mongoBinding
	err := s.bindings.FindOne(ctx, bson.M{"_id": userID}).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", tasks.ErrNotFound
		}
		return "", repoErr("list for user", err)
	}
	return b.ListID, nil
}

func (s *MongoStore) ListMembers(ctx context.Context, listID string) ([]string, error) {
	l, err := s.loadList(ctx, listID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, l.Members...), nil
}

// --- Tasks ---

func (s *MongoStore) AddTask(ctx context.Context, listID string, task tasks.Task) (string, error) {
	if strings.TrimSpace(task.ID) == "" {
		task.ID = NewID()
	}
	var update bson.M
	if task.Status == tasks.Completed {
		if task.CompletedAt == nil {
			at := task.CreatedAt
			task.CompletedAt = &at
		}
		update = bson.M{"$push": bson.M{"completed": bson.M{"$each": []mongoTask{toMongoTask(task)}, "$position": 0}}}
	} else {
		update = bson.M{"$push": bson.M{"tasks": toMongoTask(task)}}
	}
	res, err := s.lists.UpdateOne(ctx, bson.M{"_id": listID}, update)
	if err != nil {
		return "", repoErr("add task", err)
	}
	if res.MatchedCount == 0 {
		return "", tasks.ErrListNotFound
	}
	return task.ID, nil
}

func (s *MongoStore) GetTask(ctx context.Context, listID, taskID string) (tasks.Task, error) {
	l, err := s.loadList(ctx, listID)
	if err != nil {
		return tasks.Task{}, err
	}
	for _, seq := range [][]mongoTask{l.Tasks, l.Completed} {
		for _, mt := range seq {
			if mt.ID == taskID {
				return fromMongoTask(mt)
			}
		}
	}
	return tasks.Task{}, tasks.ErrNotFound
}

func (s *MongoStore) UpdateTask(ctx context.Context, listID, taskID string, fn func(*tasks.Task) error) (tasks.Task, error) {
	for attempt := 0; attempt < mongoUpdateAttempts; attempt++ {
		mt, err := s.activeTask(ctx, listID, taskID)
		if err != nil {
			return tasks.Task{}, err
		}
		before, err := fromMongoTask(mt)
		if err != nil {
			return tasks.Task{}, err
		}
		after := before.Clone()
		if err := fn(&after); err != nil {
			return tasks.Task{}, err
		}
		if err := checkMutation(before, after); err != nil {
			return tasks.Task{}, err
		}
		after.CreatedAt = before.CreatedAt
		next := toMongoTask(after)
		next.Rev = mt.Rev + 1

		res, err := s.lists.UpdateOne(ctx,
			bson.M{"_id": listID, "tasks": bson.M{"$elemMatch": bson.M{"id": taskID, "rev": mt.Rev}}},
			bson.M{"$set": bson.M{"tasks.$": next}},
		)
		if err != nil {
			return tasks.Task{}, repoErr("update task", err)
		}
		if res.MatchedCount == 1 {
			return normalizeTask(after), nil
		}
	}
	return tasks.Task{}, repoErr("update task", errMongoConflict)
}

func (s *MongoStore) MoveToCompleted(ctx context.Context, listID, taskID string, completedAt time.Time) (tasks.Task, error) {
	completedAt = tasks.Truncate(completedAt)
	for attempt := 0; attempt < mongoUpdateAttempts; attempt++ {
		mt, err := s.activeTask(ctx, listID, taskID)
		if err != nil {
			return tasks.Task{}, err
		}
		task, err := fromMongoTask(mt)
		if err != nil {
			return tasks.Task{}, err
		}
		task.Status = tasks.Completed
		task.CompletedAt = &completedAt
		archived := toMongoTask(task)
		archived.Rev = mt.Rev + 1

		res, err := s.lists.UpdateOne(ctx,
			bson.M{"_id": listID, "tasks": bson.M{"$elemMatch": bson.M{"id": taskID, "rev": mt.Rev}}},
			bson.M{
				"$pull": bson.M{"tasks": bson.M{"id": taskID}},
				"$push": bson.M{"completed": bson.M{"$each": []mongoTask{archived}, "$position": 0}},
			},
		)
		if err != nil {
			return tasks.Task{}, repoErr("complete task", err)
		}
		if res.MatchedCount == 1 {
			return task, nil
		}
	}
	return tasks.Task{}, repoErr("complete task", errMongoConflict)
}

func (s *MongoStore) DeleteTask(ctx context.Context, listID, taskID string) error {
	res, err := s.lists.UpdateOne(ctx,
		bson.M{"_id": listID},
		bson.M{"$pull": bson.M{"tasks": bson.M{"id": taskID}, "completed": bson.M{"id": taskID}}},
	)
	if err != nil {
		return repoErr("delete task", err)
	}
	if res.MatchedCount == 0 {
		return tasks.ErrListNotFound
	}
	if res.ModifiedCount == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *MongoStore) ActiveTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	l, err := s.loadList(ctx, listID)
	if err != nil {
		return nil, err
	}
	return fromMongoTasks(l.Tasks)
}

func (s *MongoStore) CompletedTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	l, err := s.loadList(ctx, listID)
	if err != nil {
		return nil, err
	}
	return fromMongoTasks(l.Completed)
}

// --- Reminders ---

func pendingReminder(extra bson.M) bson.M {
	m := bson.M{
		"reminder_fired": false,
		"status":         bson.M{"$ne": tasks.Completed.Key()},
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (s *MongoStore) DueReminders(ctx context.Context, now time.Time) ([]tasks.DueReminder, error) {
	cur, err := s.lists.Find(ctx, bson.M{
		"tasks": bson.M{"$elemMatch": pendingReminder(bson.M{"reminder_at": bson.M{"$lte": now}})},
	})
	if err != nil {
		return nil, repoErr("due reminders", err)
	}
	defer cur.Close(ctx)

	var due []tasks.DueReminder
	for cur.Next(ctx) {
		var l mongoList
		if err := cur.Decode(&l); err != nil {
			return nil, repoErr("due reminders", err)
		}
		for _, mt := range l.Tasks {
			if mt.ReminderAt == nil || mt.ReminderFired || mt.Status == tasks.Completed.Key() || mt.ReminderAt.After(now) {
				continue
			}
			due = append(due, tasks.DueReminder{
				ListID:     l.ID,
				TaskID:     mt.ID,
				Title:      mt.Title,
				FireAt:     mt.ReminderAt.Local(),
				Recipients: append([]string{}, l.Members...),
			})
		}
	}
	if err := cur.Err(); err != nil {
		return nil, repoErr("due reminders", err)
	}
	sortByFireAt(due)
	return due, nil
}

func (s *MongoStore) NextReminder(ctx context.Context, now time.Time) (time.Time, bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$tasks"}},
		{{Key: "$match", Value: bson.M{
			"tasks.reminder_fired": false,
			"tasks.status":         bson.M{"$ne": tasks.Completed.Key()},
			"tasks.reminder_at":    bson.M{"$gt": now},
		}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "next": bson.M{"$min": "$tasks.reminder_at"}}}},
	}
	cur, err := s.lists.Aggregate(ctx, pipeline)
	if err != nil {
		return time.Time{}, false, repoErr("next reminder", err)
	}
	defer cur.Close(ctx)

	var out []struct {
		Next time.Time `bson:"next"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return time.Time{}, false, repoErr("next reminder", err)
	}
	if len(out) == 0 || out[0].Next.IsZero() {
		return time.Time{}, false, nil
	}
	return out[0].Next.Local(), true, nil
}

func (s *MongoStore) MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error) {
	res, err := s.lists.UpdateOne(ctx,
		bson.M{"_id": listID, "tasks": bson.M{"$elemMatch": bson.M{
			"id":             taskID,
			"reminder_at":    tasks.Truncate(fireAt),
			"reminder_fired": false,
		}}},
		bson.M{
			"$set": bson.M{"tasks.$.reminder_fired": true},
			"$inc": bson.M{"tasks.$.rev": 1},
		},
	)
	if err != nil {
		return false, repoErr("mark fired", err)
	}
	return res.ModifiedCount == 1, nil
}

// --- Helpers ---

func (s *MongoStore) loadList(ctx context.Context, listID string) (mongoList, error) {
	var l mongoList
	err := s.lists.FindOne(ctx, bson.M{"_id": listID}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mongoList{}, tasks.ErrListNotFound
		}
		return mongoList{}, repoErr("load list", err)
	}
	return l, nil
}

func (s *MongoStore) requireList(ctx context.Context, listID string) error {
	n, err := s.lists.CountDocuments(ctx, bson.M{"_id": listID}, options.Count().SetLimit(1))
	if err != nil {
		return repoErr("lookup list", err)
	}
	if n == 0 {
		return tasks.ErrListNotFound
	}
	return nil
}

func (s *MongoStore) activeTask(ctx context.Context, listID, taskID string) (mongoTask, error) {
	l, err := s.loadList(ctx, listID)
	if err != nil {
		return mongoTask{}, err
	}
	for _, mt := range l.Tasks {
		if mt.ID == taskID {
			return mt, nil
		}
	}
	return mongoTask{}, tasks.ErrNotFound
}

func toMongoTask(t tasks.Task) mongoTask {
	mt := mongoTask{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status.Key(),
		CreatedAt:   tasks.Truncate(t.CreatedAt),
	}
	if t.CompletedAt != nil {
		at := tasks.Truncate(*t.CompletedAt)
		mt.CompletedAt = &at
	}
	if t.Reminder != nil {
		at := tasks.Truncate(t.Reminder.FireAt)
		mt.ReminderAt = &at
		mt.ReminderFired = t.Reminder.Fired
	}
	return mt
}

func fromMongoTask(mt mongoTask) (tasks.Task, error) {
	status, err := tasks.ParseStatus(mt.Status)
	if err != nil {
		return tasks.Task{}, repoErr("decode task", err)
	}
	t := tasks.Task{
		ID:          mt.ID,
		Title:       mt.Title,
		Description: mt.Description,
		Status:      status,
		CreatedAt:   mt.CreatedAt.Local(),
	}
	if mt.CompletedAt != nil {
		at := mt.CompletedAt.Local()
		t.CompletedAt = &at
	}
	if mt.ReminderAt != nil {
		t.Reminder = &tasks.Reminder{FireAt: mt.ReminderAt.Local(), Fired: mt.ReminderFired}
	}
	return t, nil
}

func fromMongoTasks(seq []mongoTask) ([]tasks.Task, error) {
	out := make([]tasks.Task, 0, len(seq))
	for _, mt := range seq {
		t, err := fromMongoTask(mt)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
