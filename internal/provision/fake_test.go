package provision

import (
	"context"
	"net/http"
	"sync"

	"github.com/jwulff/indieclock-go/internal/rabbitmq"
)

// fakeAdmin is an in-memory broker management API.
type fakeAdmin struct {
	mu          sync.Mutex
	secrets     map[string]string
	perms       map[string]rabbitmq.Permissions
	topicPerms  map[string]rabbitmq.TopicPermissions
	calls       map[string]int
	failures    map[string][]error
	deleteCalls int
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		secrets:    make(map[string]string),
		perms:      make(map[string]rabbitmq.Permissions),
		topicPerms: make(map[string]rabbitmq.TopicPermissions),
		calls:      make(map[string]int),
		failures:   make(map[string][]error),
	}
}

// failNext makes the next len(errs) calls of method fail in order.
func (f *fakeAdmin) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

func (f *fakeAdmin) enter(method string) error {
	f.calls[method]++
	if errs := f.failures[method]; len(errs) > 0 {
		f.failures[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeAdmin) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAdmin) EnsurePrincipal(_ context.Context, username, secret string) (rabbitmq.EnsureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("EnsurePrincipal"); err != nil {
		return 0, err
	}
	if _, ok := f.secrets[username]; ok {
		return rabbitmq.AlreadyExisted, nil
	}
	f.secrets[username] = secret
	return rabbitmq.Created, nil
}

func (f *fakeAdmin) SetPermissions(_ context.Context, username string, perms rabbitmq.Permissions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetPermissions"); err != nil {
		return err
	}
	f.perms[username] = perms
	return nil
}

func (f *fakeAdmin) SetTopicPermissions(_ context.Context, username string, perms rabbitmq.TopicPermissions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetTopicPermissions"); err != nil {
		return err
	}
	f.topicPerms[username] = perms
	return nil
}

func (f *fakeAdmin) GetPermissions(_ context.Context, username string) (*rabbitmq.Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetPermissions"); err != nil {
		return nil, err
	}
	perms, ok := f.perms[username]
	if !ok {
		return nil, rabbitmq.ErrPrincipalNotFound
	}
	return &perms, nil
}

func (f *fakeAdmin) DeletePrincipal(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeletePrincipal"); err != nil {
		return err
	}
	delete(f.secrets, username)
	delete(f.perms, username)
	delete(f.topicPerms, username)
	return nil
}

func (f *fakeAdmin) PrincipalExists(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PrincipalExists"); err != nil {
		return false, err
	}
	_, ok := f.secrets[username]
	return ok, nil
}

func statusError(code int) error {
	return &rabbitmq.RequestError{Method: http.MethodPut, Path: "/test", StatusCode: code}
}
