package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hostdash/cachetier/executor"
	"github.com/hostdash/cachetier/types"
	"github.com/hostdash/cachetier/utils"
)

// Facade is the typed cache surface consumed by the dashboard. Each method
// group carries its own TTL policy and its own failure policy: session
// operations propagate classified errors because a broken session cache is a
// caller-visible auth failure, while status and history reads soft-fail to
// nil when the store is unreachable so the hot path degrades to a plain
// store-less fetch. Malformed payloads are never silent: every read raises a
// classified error rather than handing back corrupted data.
type Facade struct {
	logger types.Logger
	ttl    *types.TTLConfig
	exec   *executor.Executor
}

var _ types.CacheFacade = (*Facade)(nil)

func NewFacade(logger types.Logger, ttl *types.TTLConfig, exec *executor.Executor) (*Facade, error) {
	if ttl == nil {
		return nil, types.NewInvalidConfigError("ttl config is nil", nil)
	}
	if ttl.CommandHistoryMax < 1 {
		return nil, types.NewInvalidConfigError("command history max must be at least 1", nil)
	}
	if exec == nil {
		return nil, types.NewInvalidConfigError("executor is required", nil)
	}

	return &Facade{
		logger: logger,
		ttl:    ttl,
		exec:   exec,
	}, nil
}

// --- sessions (propagate) ---

func (f *Facade) CacheSession(ctx context.Context, token string, data *types.SessionData) error {
	if data == nil {
		return types.NewOperationError("session data is nil", nil)
	}
	return f.put(ctx, "cache_session", types.NamespaceSession, token, data, f.ttl.Session)
}

func (f *Facade) GetSession(ctx context.Context, token string) (*types.SessionData, error) {
	raw, found, err := f.get(ctx, "get_session", types.NamespaceSession, token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var session types.SessionData
	if err := utils.Unmarshal([]byte(raw), &session); err != nil {
		return nil, types.NewOperationError("corrupt session payload", err).
			WithMetadata("token", token)
	}
	return &session, nil
}

func (f *Facade) InvalidateSession(ctx context.Context, token string) error {
	return f.del(ctx, "invalidate_session", types.NamespaceSession, token)
}

// --- host status (soft-fail reads) ---

func (f *Facade) CacheHostStatus(ctx context.Context, hostID string, status *types.HostStatus) error {
	if status == nil {
		return types.NewOperationError("host status is nil", nil)
	}
	return f.put(ctx, "cache_host_status", types.NamespaceHostStatus, hostID, status, f.ttl.HostStatus)
}

func (f *Facade) GetHostStatus(ctx context.Context, hostID string) (*types.HostStatus, error) {
	raw, found, err := f.get(ctx, "get_host_status", types.NamespaceHostStatus, hostID)
	if err != nil {
		if availabilityFailure(err) {
			f.softFail("get_host_status", hostID, err)
			return nil, nil
		}
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var status types.HostStatus
	if err := utils.Unmarshal([]byte(raw), &status); err != nil {
		return nil, types.NewOperationError("corrupt host status payload", err).
			WithMetadata("host_id", hostID)
	}
	return &status, nil
}

func (f *Facade) InvalidateHostStatus(ctx context.Context, hostID string) error {
	return f.del(ctx, "invalidate_host_status", types.NamespaceHostStatus, hostID)
}

// --- docker listings (soft-fail reads) ---

func (f *Facade) CacheDockerContainers(ctx context.Context, hostID string, containers []types.DockerContainer) error {
	return f.put(ctx, "cache_docker_containers", types.NamespaceDockerContainers, hostID, containers, f.ttl.Docker)
}

func (f *Facade) GetDockerContainers(ctx context.Context, hostID string) ([]types.DockerContainer, error) {
	return getList[types.DockerContainer](ctx, f, "get_docker_containers", types.NamespaceDockerContainers, hostID)
}

func (f *Facade) CacheDockerStacks(ctx context.Context, hostID string, stacks []types.DockerStack) error {
	return f.put(ctx, "cache_docker_stacks", types.NamespaceDockerStacks, hostID, stacks, f.ttl.Docker)
}

func (f *Facade) GetDockerStacks(ctx context.Context, hostID string) ([]types.DockerStack, error) {
	return getList[types.DockerStack](ctx, f, "get_docker_stacks", types.NamespaceDockerStacks, hostID)
}

// InvalidateDockerCache drops both docker listings for a host in one round
// trip.
func (f *Facade) InvalidateDockerCache(ctx context.Context, hostID string) error {
	containersKey, err := BuildKey(types.NamespaceDockerContainers, hostID)
	if err != nil {
		return types.Classify(err)
	}
	stacksKey, err := BuildKey(types.NamespaceDockerStacks, hostID)
	if err != nil {
		return types.Classify(err)
	}

	return f.exec.Execute(ctx, "invalidate_docker_cache", func(ctx context.Context, client types.StoreClient) error {
		_, err := client.Del(ctx, containersKey, stacksKey)
		return err
	})
}

// --- command history (bounded list, soft-fail reads) ---

func (f *Facade) CacheCommand(ctx context.Context, userID, hostID string, commands ...types.CommandEntry) error {
	if len(commands) == 0 {
		return nil
	}

	id, err := HistoryID(userID, hostID)
	if err != nil {
		return types.Classify(err)
	}
	physical, err := BuildKey(types.NamespaceCommand, id)
	if err != nil {
		return types.Classify(err)
	}

	payloads := make([]string, len(commands))
	for i, entry := range commands {
		data, err := utils.Marshal(entry)
		if err != nil {
			return types.NewOperationError("failed to encode command entry", err)
		}
		payloads[i] = string(data)
	}

	maxLen := f.ttl.CommandHistoryMax

	return f.exec.Execute(ctx, "cache_command", func(ctx context.Context, client types.StoreClient) error {
		if err := client.LPush(ctx, physical, payloads...); err != nil {
			return err
		}
		if err := client.LTrim(ctx, physical, 0, maxLen-1); err != nil {
			return err
		}
		return client.Expire(ctx, physical, f.ttl.CommandHistory)
	})
}

func (f *Facade) GetCommands(ctx context.Context, userID, hostID string) ([]types.CommandEntry, error) {
	id, err := HistoryID(userID, hostID)
	if err != nil {
		return nil, types.Classify(err)
	}
	physical, err := BuildKey(types.NamespaceCommand, id)
	if err != nil {
		return nil, types.Classify(err)
	}

	raws, err := executor.Run(ctx, f.exec, "get_commands",
		func(ctx context.Context, client types.StoreClient) ([]string, error) {
			return client.LRange(ctx, physical, 0, -1)
		})
	if err != nil {
		if availabilityFailure(err) {
			f.softFail("get_commands", id, err)
			return nil, nil
		}
		return nil, err
	}

	entries := make([]types.CommandEntry, 0, len(raws))
	for _, raw := range raws {
		var entry types.CommandEntry
		if err := utils.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, types.NewOperationError("corrupt command history entry", err).
				WithMetadata("id", id)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// --- internals ---

func (f *Facade) put(ctx context.Context, opName, namespace, key string, payload interface{}, ttl time.Duration) error {
	physical, err := BuildKey(namespace, key)
	if err != nil {
		return types.Classify(err)
	}

	data, err := utils.Marshal(payload)
	if err != nil {
		return types.NewOperationError("failed to encode payload", err).
			WithMetadata("key", physical)
	}

	return f.exec.Execute(ctx, opName, func(ctx context.Context, client types.StoreClient) error {
		return client.Set(ctx, physical, string(data), ttl)
	})
}

// get returns (payload, found, error). A miss is not an error.
func (f *Facade) get(ctx context.Context, opName, namespace, key string) (string, bool, error) {
	physical, err := BuildKey(namespace, key)
	if err != nil {
		return "", false, types.Classify(err)
	}

	raw, err := executor.Run(ctx, f.exec, opName,
		func(ctx context.Context, client types.StoreClient) (string, error) {
			return client.Get(ctx, physical)
		})
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	return raw, true, nil
}

func (f *Facade) del(ctx context.Context, opName, namespace, key string) error {
	physical, err := BuildKey(namespace, key)
	if err != nil {
		return types.Classify(err)
	}

	return f.exec.Execute(ctx, opName, func(ctx context.Context, client types.StoreClient) error {
		_, err := client.Del(ctx, physical)
		return err
	})
}

// getList decodes a cached JSON list. An unreachable store reads as "not
// cached", but a payload that does not decode is surfaced as an operation
// error.
func getList[T any](ctx context.Context, f *Facade, opName, namespace, key string) ([]T, error) {
	raw, found, err := f.get(ctx, opName, namespace, key)
	if err != nil {
		if availabilityFailure(err) {
			f.softFail(opName, key, err)
			return nil, nil
		}
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var list []T
	if err := utils.Unmarshal([]byte(raw), &list); err != nil {
		return nil, types.NewOperationError("corrupt cached listing", err).
			WithMetadata("key", key)
	}
	return list, nil
}

// availabilityFailure reports whether a read failure may degrade to a miss.
// Only connectivity trouble qualifies.
func availabilityFailure(err error) bool {
	return types.IsKind(err, types.KindNotConnected) ||
		types.IsKind(err, types.KindConnectionError)
}

func (f *Facade) softFail(opName, key string, err error) {
	f.logger.Warn("Cache read degraded to miss",
		zap.String("operation", opName),
		zap.String("key", key),
		zap.Error(err))
}
