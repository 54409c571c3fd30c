package replicache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/airheartdev/replicache/v2"
	"github.com/airheartdev/replicache/v2/memory"
	"github.com/stretchr/testify/suite"
)

type MainSuite struct {
	suite.Suite

	backend *memory.Backend[Todo]
	rep     *replicache.Replicache[Todo]
	pokes   []string
}

func TestMainSuite(t *testing.T) {
	suite.Run(t, new(MainSuite))
}

type Todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

var errBoom = errors.New("boom")

func (s *MainSuite) SetupTest() {
	s.backend = memory.New[Todo]()
	s.pokes = nil
	s.rep = replicache.New[Todo](s.backend, replicache.WithPoke(func(spaceID string) {
		s.pokes = append(s.pokes, spaceID)
	}))

	s.Require().NoError(s.rep.Register("putTodo", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		todo := Todo{}
		if err := json.Unmarshal(args, &todo); err != nil {
			return err
		}
		return tx.Put("todo/"+todo.ID, todo)
	}))
	s.Require().NoError(s.rep.Register("deleteTodo", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		var id string
		if err := json.Unmarshal(args, &id); err != nil {
			return err
		}
		_, err := tx.Del("todo/" + id)
		return err
	}))
	s.Require().NoError(s.rep.Register("failAfterPut", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		if err := tx.Put("todo/never", Todo{ID: "never"}); err != nil {
			return err
		}
		return errBoom
	}))
}

func mutation(id uint64, name string, args any) replicache.Mutation {
	b, _ := json.Marshal(args)
	return replicache.Mutation{ID: id, Name: name, Args: b}
}

func (s *MainSuite) push(clientID string, muts ...replicache.Mutation) {
	err := s.rep.Push(context.TODO(), "space", &replicache.PushRequest{
		ClientID:  clientID,
		Mutations: muts,
	})
	s.Require().NoError(err)
}

func (s *MainSuite) pull(clientID string, cookie uint64) replicache.PullResponse[Todo] {
	resp, err := s.rep.Pull(context.TODO(), "space", &replicache.PullRequest{
		ClientID: clientID,
		Cookie:   cookie,
	})
	s.Require().NoError(err)
	return resp
}

func (s *MainSuite) TestRegister() {
	noop := func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error { return nil }

	s.NoError(s.rep.Register("noop", noop))
	s.ErrorIs(s.rep.Register("noop", noop), replicache.ErrMutatorExists)
}

func (s *MainSuite) TestPushPull() {
	s.push("c1",
		mutation(1, "putTodo", Todo{ID: "1", Text: "Hello"}),
		mutation(2, "putTodo", Todo{ID: "2", Text: "World"}),
	)
	s.Equal([]string{"space"}, s.pokes)

	resp := s.pull("c1", 0)
	s.Equal(uint64(1), resp.Cookie)
	s.Equal(uint64(2), resp.LastMutationID)
	s.Require().Len(resp.Patch, 3)
	s.Equal(replicache.PatchClear, resp.Patch[0].Op)
	s.Equal(replicache.PatchPut, resp.Patch[1].Op)
	s.Equal("todo/1", *resp.Patch[1].Key)
	s.Equal("Hello", resp.Patch[1].Value.Text)
	s.Equal("todo/2", *resp.Patch[2].Key)

	s.push("c1", mutation(3, "deleteTodo", "1"))

	resp = s.pull("c1", 1)
	s.Equal(uint64(2), resp.Cookie)
	s.Equal(uint64(3), resp.LastMutationID)
	s.Require().Len(resp.Patch, 1)
	s.Equal(replicache.PatchDel, resp.Patch[0].Op)
	s.Equal("todo/1", *resp.Patch[0].Key)
	s.Nil(resp.Patch[0].Value)

	// A fresh client gets a clear and the live entries only
	resp = s.pull("c2", 0)
	s.Equal(uint64(0), resp.LastMutationID)
	s.Require().Len(resp.Patch, 2)
	s.Equal(replicache.PatchClear, resp.Patch[0].Op)
	s.Equal("todo/2", *resp.Patch[1].Key)
}

func (s *MainSuite) TestPushSkipsProcessedAndFuture() {
	s.push("c1",
		mutation(1, "putTodo", Todo{ID: "1"}),
		mutation(2, "putTodo", Todo{ID: "2"}),
		mutation(4, "putTodo", Todo{ID: "4"}),
	)
	id, _ := s.backend.GetLastMutationID("c1")
	s.Equal(uint64(2), id)

	s.push("c1",
		mutation(1, "deleteTodo", "1"),
		mutation(2, "deleteTodo", "2"),
		mutation(3, "putTodo", Todo{ID: "3"}),
	)
	id, _ = s.backend.GetLastMutationID("c1")
	s.Equal(uint64(3), id)

	live := s.backend.GetEntries("space", "")
	s.Len(live, 3)
}

func (s *MainSuite) TestPushSkipsFailingMutations() {
	s.push("c1",
		mutation(1, "failAfterPut", nil),
		mutation(2, "noSuchMutator", nil),
		mutation(3, "putTodo", Todo{ID: "3"}),
	)

	id, _ := s.backend.GetLastMutationID("c1")
	s.Equal(uint64(3), id)

	_, err := s.backend.GetEntry("space", "todo/never")
	s.ErrorIs(err, replicache.ErrNotFound)
	_, err = s.backend.GetEntry("space", "todo/3")
	s.NoError(err)
}

func (s *MainSuite) TestPushMutatorsSeeEarlierMutations() {
	s.Require().NoError(s.rep.Register("appendText", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		todo, err := tx.Get("todo/1")
		if err != nil {
			return err
		}
		if todo == nil {
			return errBoom
		}
		todo.Text += "!"
		return tx.Put("todo/1", *todo)
	}))

	s.push("c1",
		mutation(1, "putTodo", Todo{ID: "1", Text: "hi"}),
		mutation(2, "appendText", nil),
		mutation(3, "appendText", nil),
	)

	todo, err := s.backend.GetEntry("space", "todo/1")
	s.NoError(err)
	s.Equal("hi!!", todo.Text)
}

// failingBackend fails every put of failKey. An empty failKey fails all
// puts.
type failingBackend struct {
	*memory.Backend[Todo]
	failKey *string
}

type failingStore struct {
	replicache.Store[Todo]
	failKey *string
}

func (b failingBackend) Space(spaceID string, version uint64) replicache.Store[Todo] {
	return failingStore{b.Backend.Space(spaceID, version), b.failKey}
}

func (s failingStore) PutEntry(key string, value Todo) error {
	if *s.failKey == "" || *s.failKey == key {
		return errBoom
	}
	return s.Store.PutEntry(key, value)
}

func (s *MainSuite) TestPushFlushFailure() {
	failKey := ""
	backend := failingBackend{memory.New[Todo](), &failKey}
	rep := replicache.New[Todo](backend)
	s.Require().NoError(rep.Register("putTodo", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		return tx.Put("todo/1", Todo{ID: "1"})
	}))

	err := rep.Push(context.TODO(), "space", &replicache.PushRequest{
		ClientID:  "c1",
		Mutations: []replicache.Mutation{mutation(1, "putTodo", nil)},
	})
	s.ErrorIs(err, errBoom)

	_, ok := backend.GetLastMutationID("c1")
	s.False(ok)
	_, ok = backend.GetCookie("space")
	s.False(ok)
}

func (s *MainSuite) TestPushFlushFailureKeepsEarlierMutations() {
	failKey := "todo/2"
	backend := failingBackend{memory.New[Todo](), &failKey}
	pokes := 0
	rep := replicache.New[Todo](backend, replicache.WithPoke(func(spaceID string) {
		pokes++
	}))
	s.Require().NoError(rep.Register("putTodo", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		todo := Todo{}
		if err := json.Unmarshal(args, &todo); err != nil {
			return err
		}
		return tx.Put("todo/"+todo.ID, todo)
	}))
	s.Require().NoError(rep.Register("appendText", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		todo, err := tx.Get("todo/1")
		if err != nil || todo == nil {
			return errBoom
		}
		todo.Text += "!"
		return tx.Put("todo/1", *todo)
	}))

	push := &replicache.PushRequest{
		ClientID: "c1",
		Mutations: []replicache.Mutation{
			mutation(1, "putTodo", Todo{ID: "1", Text: "hi"}),
			mutation(2, "appendText", nil),
			mutation(3, "putTodo", Todo{ID: "2"}),
		},
	}

	err := rep.Push(context.TODO(), "space", push)
	s.ErrorIs(err, errBoom)

	lastMutationID, _ := backend.GetLastMutationID("c1")
	s.Equal(uint64(2), lastMutationID)
	cookie, _ := backend.GetCookie("space")
	s.Equal(uint64(1), cookie)
	s.Equal(1, pokes)

	// The retried push only runs what was not flushed
	failKey = "none"
	s.Require().NoError(rep.Push(context.TODO(), "space", push))

	todo, err := backend.GetEntry("space", "todo/1")
	s.NoError(err)
	s.Equal("hi!", todo.Text)
	_, err = backend.GetEntry("space", "todo/2")
	s.NoError(err)

	lastMutationID, _ = backend.GetLastMutationID("c1")
	s.Equal(uint64(3), lastMutationID)
	cookie, _ = backend.GetCookie("space")
	s.Equal(uint64(2), cookie)
}

func (s *MainSuite) TestPushCancelledMidway() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Require().NoError(s.rep.Register("putAndCancel", func(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
		cancel()
		return tx.Put("todo/cancel", Todo{ID: "cancel"})
	}))

	err := s.rep.Push(ctx, "space", &replicache.PushRequest{
		ClientID: "c1",
		Mutations: []replicache.Mutation{
			mutation(1, "putTodo", Todo{ID: "1"}),
			mutation(2, "putAndCancel", nil),
			mutation(3, "putTodo", Todo{ID: "3"}),
		},
	})
	s.ErrorIs(err, context.Canceled)

	lastMutationID, _ := s.backend.GetLastMutationID("c1")
	s.Equal(uint64(2), lastMutationID)
	_, err = s.backend.GetEntry("space", "todo/cancel")
	s.NoError(err)
	_, err = s.backend.GetEntry("space", "todo/3")
	s.ErrorIs(err, replicache.ErrNotFound)
	s.Equal([]string{"space"}, s.pokes)
}

func (s *MainSuite) TestPushCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.rep.Push(ctx, "space", &replicache.PushRequest{
		ClientID:  "c1",
		Mutations: []replicache.Mutation{mutation(1, "putTodo", Todo{ID: "1"})},
	})
	s.ErrorIs(err, context.Canceled)
	s.Empty(s.pokes)
}

func newRequest(ctx context.Context, endpoint string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, endpoint+"?spaceID=space", bytes.NewBufferString(body)).WithContext(ctx)
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add(replicache.ReplicacheRequestIDHeader, "1")
	return req
}

func (s *MainSuite) TestRequestWithAuth() {
	ctx := context.TODO()
	authCalled := 0
	authFn := func(ctx context.Context, token string) bool {
		authCalled++
		return token == "TOKEN"
	}

	r := replicache.New[Todo](memory.New[Todo](), replicache.WithAuth(authFn))
	handler := r.HandlePull()

	buf := httptest.NewRecorder()
	req := newRequest(ctx, replicache.DefaultPullEndpoint, `{"clientID":"c1"}`)
	req.Header.Add("Authorization", "TOKEN")

	handler(buf, req)

	s.Equal(1, authCalled)
	s.Equal(200, buf.Result().StatusCode)
	s.Equal("application/json", buf.Result().Header.Get("Content-Type"))

	resp := replicache.PullResponse[Todo]{}
	s.NoError(json.NewDecoder(buf.Body).Decode(&resp))
	s.Len(resp.Patch, 1)

	buf = httptest.NewRecorder()
	req = newRequest(ctx, replicache.DefaultPullEndpoint, `{"clientID":"c1"}`)
	req.Header.Add("Authorization", "WRONG")
	handler(buf, req)
	s.Equal(http.StatusUnauthorized, buf.Result().StatusCode)
}

func (s *MainSuite) TestHandlePush() {
	body := `{"clientID":"c1","mutations":[{"id":1,"name":"putTodo","args":{"id":"1","text":"Hello"}}]}`

	buf := httptest.NewRecorder()
	s.rep.HandlePush()(buf, newRequest(context.TODO(), replicache.DefaultPushEndpoint, body))
	s.Equal(http.StatusOK, buf.Result().StatusCode)

	todo, err := s.backend.GetEntry("space", "todo/1")
	s.NoError(err)
	s.Equal("Hello", todo.Text)
}

func (s *MainSuite) TestRequestValidation() {
	tests := []struct {
		name   string
		modify func(req *http.Request)
		body   string
		status int
	}{
		{
			name:   "wrong_method",
			modify: func(req *http.Request) { req.Method = http.MethodGet },
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "missing_content_type",
			modify: func(req *http.Request) { req.Header.Del("Content-Type") },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing_request_id",
			modify: func(req *http.Request) { req.Header.Del(replicache.ReplicacheRequestIDHeader) },
			status: http.StatusBadRequest,
		},
		{
			name:   "bad_json",
			body:   `{`,
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			body := tc.body
			if body == "" {
				body = `{}`
			}

			for _, handler := range []http.HandlerFunc{s.rep.HandlePush(), s.rep.HandlePull()} {
				req := newRequest(context.TODO(), "/", body)
				if tc.modify != nil {
					tc.modify(req)
				}
				buf := httptest.NewRecorder()
				handler(buf, req)
				s.Equal(tc.status, buf.Result().StatusCode)
			}
		})
	}
}
