package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ibn-api/authcore"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/internal/logging"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/store/memory"
)

const loadPassword = "load-test-password"

type sessionState struct {
	identityID string
	access     string
	refresh    string
	mu         sync.Mutex
}

func main() {
	var (
		identities  = flag.Int("identities", 50, "number of identities to create")
		sessions    = flag.Int("sessions", 1000, "number of sessions to open")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (authenticate, authorize, refresh)")
		redisURL    = flag.String("redis-url", os.Getenv("AUTHD_REDIS_URL"), "redis URL; an in-process miniredis is used when empty")
		prefix      = flag.String("prefix", "lt", "session key prefix")
	)
	flag.Parse()

	if *identities <= 0 || *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, shutdown, err := openRedis(*redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer shutdown()

	cfg := loadConfig(*prefix)
	store := memory.New(nil)
	ids, err := seedIdentities(ctx, store, cfg.Password, *identities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityStore(store).
		WithRoleStore(store).
		WithLogger(logging.Discard()).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	opened := time.Now()
	for i := range states {
		id := ids[i%len(ids)]
		res, err := engine.Login(ctx, authcore.LoginRequest{
			Identifier: id,
			Secret:     loadPassword,
			ClientIP:   fmt.Sprintf("10.0.%d.%d", (i/250)%250, i%250+1),
			UserAgent:  "authcore-loadtest",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{identityID: res.Identity.ID, access: res.AccessToken, refresh: res.RefreshToken}
	}
	fmt.Printf("opened %d sessions in %s\n", len(states), time.Since(opened).Round(time.Millisecond))

	authenticateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		token := state.access
		state.mu.Unlock()
		_, err := engine.Authenticate(ctx, token)
		return err
	})

	reqs := []authcore.Requirement{
		authcore.RequirePermission("view_projects"),
		authcore.RequireAny("invoke_chaincodes", "deploy_chaincodes"),
		authcore.RequireCapability("users", "read"),
	}
	authorizeStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand, i int) error {
		state := &states[r.Intn(len(states))]
		_, err := engine.AuthorizeIdentity(ctx, state.identityID, reqs[i%len(reqs)])
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		res, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = res.AccessToken
		state.refresh = res.RefreshToken
		return nil
	})

	fmt.Printf("authenticate: %s\n", authenticateStats)
	fmt.Printf("authorize:    %s\n", authorizeStats)
	fmt.Printf("refresh:      %s\n", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("refresh_reuse_detected=%d sessions_created=%d\n",
		snap.Counters[authcore.MetricRefreshReuseDetected],
		snap.Counters[authcore.MetricSessionCreated],
	)
}

// loadConfig keeps hashing cheap and lifts the throttles and refresh ceiling
// so the phases measure the hot paths rather than the limits.
func loadConfig(prefix string) authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("authcore-loadtest-signing-key-0123456789")
	cfg.Session.RedisPrefix = prefix
	cfg.Session.RefreshCeiling = 1 << 30
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.MaxLoginAttempts = 0
	cfg.Security.EnableIPThrottle = false
	cfg.Security.EnableRefreshThrottle = false
	cfg.Sweeper.Enabled = false
	return cfg
}

func seedIdentities(ctx context.Context, store *memory.Store, pw authcore.PasswordConfig, n int) ([]string, error) {
	if _, err := permission.Seed(ctx, store); err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(password.Config{
		Memory:           pw.Memory,
		Time:             pw.Time,
		Parallelism:      pw.Parallelism,
		SaltLength:       pw.SaltLength,
		KeyLength:        pw.KeyLength,
		MinPasswordBytes: pw.MinPasswordBytes,
		MaxPasswordBytes: pw.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	roles := permission.SystemRoles()
	logins := make([]string, 0, n)
	for i := 0; i < n; i++ {
		role, err := store.GetRoleByName(ctx, roles[i%len(roles)].Name)
		if err != nil {
			return nil, err
		}
		username := fmt.Sprintf("load-%d", i)
		if _, err := store.Create(ctx, identity.Identity{
			Username:     username,
			Email:        username + "@load.test",
			PasswordHash: hash,
			RoleID:       role.ID,
		}); err != nil {
			return nil, err
		}
		logins = append(logins, username)
	}
	return logins, nil
}

// openRedis connects to url, or to a throwaway miniredis when url is empty.
func openRedis(url string) (redis.UniversalClient, func(), error) {
	if url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		fmt.Printf("redis: %s\n", opts.Addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("redis: miniredis %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase spreads ops calls of op over concurrency workers. Each worker
// records its own latencies; they are merged once every worker is done.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		next      atomic.Int64
		failed    atomic.Int64
		wg        sync.WaitGroup
		perWorker = make([][]time.Duration, concurrency)
	)

	began := time.Now()
	for w := range perWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed*int64(w+1) + began.UnixNano()))
			for i := int(next.Add(1) - 1); i < ops; i = int(next.Add(1) - 1) {
				at := time.Now()
				if err := op(r, i); err != nil {
					failed.Add(1)
				}
				perWorker[w] = append(perWorker[w], time.Since(at))
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(began)

	all := make([]time.Duration, 0, ops)
	for _, l := range perWorker {
		all = append(all, l...)
	}
	return summarize(elapsed, all, failed.Load())
}

type phaseStats struct {
	elapsed   time.Duration
	count     int
	failed    int64
	rate      float64
	quantiles [3]time.Duration
}

var reportedQuantiles = [3]int{50, 95, 99}

func summarize(elapsed time.Duration, samples []time.Duration, failed int64) phaseStats {
	st := phaseStats{elapsed: elapsed, count: len(samples), failed: failed}
	if len(samples) == 0 {
		return st
	}
	slices.Sort(samples)
	for i, q := range reportedQuantiles {
		st.quantiles[i] = samples[(len(samples)-1)*q/100]
	}
	st.rate = float64(len(samples)) / elapsed.Seconds()
	return st
}

func (s phaseStats) String() string {
	out := fmt.Sprintf("ops=%d failed=%d elapsed=%s rate=%.0f/s",
		s.count, s.failed, s.elapsed.Round(time.Millisecond), s.rate)
	for i, q := range reportedQuantiles {
		out += fmt.Sprintf(" p%d=%s", q, s.quantiles[i].Round(time.Microsecond))
	}
	return out
}
