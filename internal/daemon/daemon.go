package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dexft/dexft/internal/config"
	configstore "github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/controller"
	"github.com/dexft/dexft/internal/engine"
	"github.com/dexft/dexft/internal/eventbus"
	"github.com/dexft/dexft/internal/foreground"
	"github.com/dexft/dexft/internal/mediaindex"
	"github.com/dexft/dexft/internal/netident"
	"github.com/dexft/dexft/internal/notification"
	"github.com/dexft/dexft/internal/observability"
	"github.com/dexft/dexft/internal/permission"
	"github.com/dexft/dexft/internal/procutil"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
	"github.com/dexft/dexft/internal/server"
	"github.com/dexft/dexft/internal/toggle"
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Store *configstore.Store

	// Engine overrides the transfer server built from settings.
	Engine engine.Engine
	// Resolver overrides local address discovery.
	Resolver toggle.AddressResolver
	// ConfigPollInterval overrides the settings watch period.
	ConfigPollInterval time.Duration
}

// Daemon represents the main daemon process.
type Daemon struct {
	store         *configstore.Store
	instancePaths config.InstancePaths
	eventBus      *eventbus.Bus
	serviceHost   *daemonruntime.ServiceHost
	runtimeInfo   *RuntimeInfo
	lifecycle     *daemonruntime.Lifecycle

	notifications *notification.Center
	permissions   *permission.Checker
	foreground    *foreground.Manager
	controller    *controller.Controller
	toggle        *toggle.Binding
	apiServer     *server.APIServer

	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	errMu  sync.Mutex
	runErr error

	configMu     sync.Mutex
	configCancel func()
	settings     config.Settings
}

const (
	// storeQueryTimeout bounds store lookups during config reloads.
	storeQueryTimeout = 5 * time.Second

	// serviceOpTimeout bounds service restart and graceful shutdown.
	serviceOpTimeout = 10 * time.Second

	defaultConfigPollInterval = time.Second
)

// New creates a new daemon instance bound to the provided configuration store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	settings, err := opts.Store.Settings(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("daemon: load settings: %w", err)
	}

	paths := config.GetInstancePaths(opts.Store.InstanceName())
	bus := eventbus.New()
	eventCounter := observability.NewEventCounter()
	bus.AddObserver(eventCounter)

	center := notification.NewCenter(bus)
	center.SetPushTokens(settings.PushTokens)

	checker := permission.NewChecker(settings.SharedDir, settings.Grants)
	fg := foreground.NewManager(center,
		foreground.WithStartRate(settings.StartRate, settings.StartBurst),
		foreground.WithNotificationsPermitted(checker.NotificationsPermitted),
	)

	eng := opts.Engine
	if eng == nil {
		eng = buildEngine(settings)
	}

	ctrl, err := controller.New(controller.Options{
		Engine: eng,
		Host:   fg,
		Notification: foreground.Request{
			ChannelID: settings.ChannelID,
			Title:     settings.Title,
			Text:      settings.Text,
		},
		Synchronizer:   mediaindex.New(opts.Store, bus),
		ScanDir:        settings.SharedDir,
		Permissions:    checker,
		Bus:            bus,
		MinRunDuration: settings.MinRunDuration,
		StopGrace:      settings.StopGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: create controller: %w", err)
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = netident.NewResolver()
	}
	binding := toggle.New(ctrl, resolver, listenPort(settings.ListenAddr), bus)

	host := daemonruntime.NewServiceHost()
	runtimeInfo := &RuntimeInfo{}
	exporter := observability.NewPrometheusExporter(bus, eventCounter).
		WithLifecycle(ctrl).
		WithServices(host)

	apiServer, err := server.NewAPIServer(server.Options{
		Controller: ctrl,
		Toggle:     binding,
		Media:      opts.Store,
		Services:   host,
		Bus:        bus,
		Runtime:    runtimeInfo,
		Metrics:    exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: create API server: %w", err)
	}

	d := &Daemon{
		store:         opts.Store,
		instancePaths: paths,
		eventBus:      bus,
		serviceHost:   host,
		runtimeInfo:   runtimeInfo,
		lifecycle:     daemonruntime.NewLifecycle(),
		notifications: center,
		permissions:   checker,
		foreground:    fg,
		controller:    ctrl,
		toggle:        binding,
		apiServer:     apiServer,
		pollInterval:  opts.ConfigPollInterval,
		settings:      settings,
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultConfigPollInterval
	}

	apiServer.SetShutdownFunc(func(context.Context) error {
		log.Printf("[Daemon] shutdown requested via control API")
		return d.Shutdown()
	})

	// Stop runs in reverse: the controller stops the engine first, then the
	// control surfaces go away.
	services := []struct {
		name    string
		factory daemonruntime.ServiceFactory
	}{
		{"notification", func(context.Context) (daemonruntime.Service, error) { return center, nil }},
		{"toggle", func(context.Context) (daemonruntime.Service, error) { return binding, nil }},
		{"api", func(context.Context) (daemonruntime.Service, error) { return apiServer, nil }},
		{"unix_socket", func(context.Context) (daemonruntime.Service, error) {
			return newUnixSocketService(paths.Socket, apiServer.Handler()), nil
		}},
		{"control_tcp", func(context.Context) (daemonruntime.Service, error) {
			return newTCPControlService(d.currentSettings().ControlTCPAddr, apiServer.Handler(), runtimeInfo.SetControlAddr), nil
		}},
		{"controller", func(context.Context) (daemonruntime.Service, error) { return ctrl, nil }},
	}
	for _, svc := range services {
		if err := host.Register(svc.name, svc.factory); err != nil {
			return nil, fmt.Errorf("daemon: register %s service: %w", svc.name, err)
		}
	}

	return d, nil
}

// buildEngine picks the transfer server described by settings: an external
// command when configured, otherwise the builtin read-only HTTP file server.
func buildEngine(s config.Settings) engine.Engine {
	if len(s.EngineCommand) > 0 {
		return &engine.ExecEngine{
			Path:  s.EngineCommand[0],
			Args:  s.EngineCommand[1:],
			Dir:   s.SharedDir,
			Grace: s.StopGrace,
		}
	}
	return engine.NewHTTPEngine(s.ListenAddr, s.SharedDir)
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return config.DefaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return config.DefaultPort
	}
	return port
}

// Start starts the daemon services and blocks until Shutdown.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.instancePaths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.instancePaths.Lock)

	d.runtimeInfo.SetStartTime(time.Now())
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err := d.serviceHost.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start services: %w", err)
	}
	d.watchHostErrors()
	if err := d.startConfigWatcher(); err != nil {
		log.Printf("[Daemon] config watcher error: %v", err)
	}
	log.Printf("[Daemon] started (pid %d, socket %s)", os.Getpid(), d.instancePaths.Socket)

	<-d.lifecycle.Done()

	d.stopConfigWatcher()

	stopCtx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Daemon] service shutdown error: %v", err)
		d.setRunError(err)
	}
	cancel()
	d.cancel()

	m := d.eventBus.Metrics()
	log.Printf("[Daemon] event bus: published=%d dropped=%d", m.PublishTotal, m.DroppedTotal)
	d.eventBus.Shutdown()

	if err := d.store.Close(); err != nil {
		log.Printf("[Daemon] store close error: %v", err)
	}

	return d.getRunError()
}

// Shutdown signals the daemon to stop. Start performs the actual teardown,
// stopping the transfer server before the control surfaces.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()
	return nil
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for err := range d.serviceHost.Errors() {
			if err == nil {
				continue
			}
			d.setRunError(err)
			log.Printf("[Daemon] service error: %v", err)
			d.lifecycle.Shutdown()
		}
	}()
}

func (d *Daemon) startConfigWatcher() error {
	cancel, err := d.serviceHost.WatchConfig(d.ctx, d.store, d.pollInterval, d.handleConfigEvent)
	if err != nil {
		return err
	}
	d.configMu.Lock()
	d.configCancel = cancel
	d.configMu.Unlock()
	return nil
}

func (d *Daemon) stopConfigWatcher() {
	d.configMu.Lock()
	cancel := d.configCancel
	d.configCancel = nil
	d.configMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Daemon) handleConfigEvent(event configstore.ChangeEvent) {
	if !event.SettingsChanged {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, storeQueryTimeout)
	next, err := d.store.Settings(ctx)
	cancel()
	if err != nil {
		log.Printf("[Daemon] reload settings: %v", err)
		return
	}

	d.configMu.Lock()
	prev := d.settings
	d.settings = next
	d.configMu.Unlock()

	d.applySettings(prev, next)
}

// applySettings hot-applies grants, start rate and push tokens. Settings that
// shape the running engine only take effect after a daemon restart.
func (d *Daemon) applySettings(prev, next config.Settings) {
	if prev.Grants != next.Grants {
		d.permissions.Update(prev.SharedDir, next.Grants)
		log.Printf("[Daemon] permission grants updated: %+v", next.Grants)
	}
	if prev.StartRate != next.StartRate || prev.StartBurst != next.StartBurst {
		d.foreground.SetStartRate(next.StartRate, next.StartBurst)
		log.Printf("[Daemon] foreground start rate updated: %.2f/s burst %d", next.StartRate, next.StartBurst)
	}
	if !slices.Equal(prev.PushTokens, next.PushTokens) {
		d.notifications.SetPushTokens(next.PushTokens)
		log.Printf("[Daemon] push tokens updated (%d)", len(next.PushTokens))
	}
	if prev.ControlTCPAddr != next.ControlTCPAddr {
		d.restartService("control_tcp")
	}

	if prev.SharedDir != next.SharedDir || prev.ListenAddr != next.ListenAddr ||
		!slices.Equal(prev.EngineCommand, next.EngineCommand) ||
		prev.MinRunDuration != next.MinRunDuration || prev.StopGrace != next.StopGrace ||
		prev.ChannelID != next.ChannelID || prev.Title != next.Title || prev.Text != next.Text {
		log.Printf("[Daemon] transfer settings changed; restart dexftd to apply")
	}
}

func (d *Daemon) restartService(name string) {
	ctx, cancel := context.WithTimeout(d.ctx, serviceOpTimeout)
	defer cancel()
	if err := d.serviceHost.Restart(ctx, name); err != nil {
		log.Printf("[Daemon] restart %s: %v", name, err)
		return
	}
	log.Printf("[Daemon] restarted %s", name)
}

func (d *Daemon) currentSettings() config.Settings {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.settings
}

func (d *Daemon) setRunError(err error) {
	if err == nil {
		return
	}

	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// RuntimeInfo exposes runtime metadata.
func (d *Daemon) RuntimeInfo() *RuntimeInfo {
	return d.runtimeInfo
}

// Controller returns the lifecycle controller.
func (d *Daemon) Controller() *controller.Controller {
	return d.controller
}

// APIServer returns the API server.
func (d *Daemon) APIServer() *server.APIServer {
	return d.apiServer
}

// ServiceHost returns the runtime service host.
func (d *Daemon) ServiceHost() *daemonruntime.ServiceHost {
	return d.serviceHost
}

// IsRunning checks if a daemon is already running for the instance.
func IsRunning(instanceName string) bool {
	paths := config.GetInstancePaths(instanceName)

	if conn, err := net.Dial("unix", paths.Socket); err == nil {
		conn.Close()
		return true
	}

	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			os.Remove(paths.Lock)
		}
		return false
	}

	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.Lock)
		return false
	}

	return true
}
