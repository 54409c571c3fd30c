package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/airheartdev/replicache/v2"
	"github.com/airheartdev/replicache/v2/memory"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/r3labs/sse/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve push and pull for the todo demo",
		Args:  cobra.NoArgs,
		RunE:  serveRun,
	}

	listenAddr = "127.0.0.1:1234"
	authToken  = ""
)

const pokeStream = "mutations"

func init() {
	fs := serveCmd.Flags()

	fs.StringVar(&listenAddr, "listen", listenAddr, "`address` to listen on")
	cfgVars["listen"] = fs.Lookup("listen")

	fs.StringVar(&authToken, "auth-token", authToken, "require this `token` in the Authorization header")
	cfgVars["auth-token"] = fs.Lookup("auth-token")

	rootCmd.AddCommand(serveCmd)
}

type Todo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Sort      int    `json:"sort"`
}

func (t Todo) String() string {
	b, _ := json.Marshal(t)
	return string(b)
}

type UpdateTodo struct {
	ID      string `json:"id"`
	Changes Todo   `json:"changes"`
}

type CompleteTodos struct {
	IDs       []string `json:"id"`
	Completed bool     `json:"completed"`
}

func todoKey(id string) string {
	return fmt.Sprintf("todo/%s", id)
}

func getTodo(tx replicache.WriteTransaction[Todo], id string) (*Todo, error) {
	todo, err := tx.Get(todoKey(id))
	if err != nil {
		return nil, err
	}
	if todo == nil {
		return nil, fmt.Errorf("todo %s: %w", id, replicache.ErrNotFound)
	}
	return todo, nil
}

func putTodo(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
	todo := Todo{}
	if err := json.Unmarshal(args, &todo); err != nil {
		return err
	}
	return tx.Put(todoKey(todo.ID), todo)
}

func updateTodo(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
	update := UpdateTodo{}
	if err := json.Unmarshal(args, &update); err != nil {
		return err
	}

	todo, err := getTodo(tx, update.ID)
	if err != nil {
		return err
	}

	todo.Completed = update.Changes.Completed
	todo.Sort = update.Changes.Sort
	if update.Changes.Text != "" {
		todo.Text = update.Changes.Text
	}

	return tx.Put(todoKey(todo.ID), *todo)
}

func deleteTodos(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
	ids := []string{}
	if err := json.Unmarshal(args, &ids); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Del(todoKey(id)); err != nil {
			return err
		}
	}
	return nil
}

func completeTodos(tx replicache.WriteTransaction[Todo], args json.RawMessage) error {
	change := CompleteTodos{}
	if err := json.Unmarshal(args, &change); err != nil {
		return err
	}

	for _, id := range change.IDs {
		todo, err := getTodo(tx, id)
		if err != nil {
			return err
		}
		todo.Completed = change.Completed
		if err := tx.Put(todoKey(id), *todo); err != nil {
			return err
		}
	}
	return nil
}

func newServer(be replicache.Backend[Todo], events *sse.Server) (*replicache.Replicache[Todo], error) {
	rep := replicache.New[Todo](be,
		replicache.WithAuth(func(ctx context.Context, token string) bool {
			return authToken == "" || token == authToken
		}),
		replicache.WithPoke(func(spaceID string) {
			events.Publish(pokeStream, &sse.Event{
				Data: []byte("ping"),
			})
		}),
	)

	mutators := map[string]replicache.Mutator[Todo]{
		"putTodo":       putTodo,
		"updateTodo":    updateTodo,
		"deleteTodos":   deleteTodos,
		"completeTodos": completeTodos,
	}
	for name, fn := range mutators {
		if err := rep.Register(name, fn); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func newRouter(rep *replicache.Replicache[Todo], events *sse.Server) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", replicache.ReplicacheRequestIDHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	router.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Access-Control-Allow-Origin", "*")
		events.ServeHTTP(w, r)
	})

	router.Post(replicache.DefaultPullEndpoint, rep.HandlePull())
	router.Post(replicache.DefaultPushEndpoint, rep.HandlePush())
	return router
}

func serveRun(cmd *cobra.Command, args []string) error {
	events := sse.New()
	events.CreateStream(pokeStream)
	defer events.Close()

	rep, err := newServer(memory.New[Todo](), events)
	if err != nil {
		return err
	}

	log.WithField("addr", listenAddr).Infof("listening on http://%s", listenAddr)
	return http.ListenAndServe(listenAddr, newRouter(rep, events))
}
