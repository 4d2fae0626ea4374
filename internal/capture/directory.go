package capture

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Directory lifecycle states.
const (
	stateUninitialized int32 = iota
	stateReady
	stateTerminated
)

// Options configures a Directory. Zero values select defaults.
type Options struct {
	// Timeout is how long a device list is served before re-enumeration.
	Timeout time.Duration

	// NameMaxLength bounds display names, NUL terminator included.
	NameMaxLength int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Directory is a time-bounded cache of the attached capture devices and
// the owner of their capability maps.
//
// Reads are served from an immutable snapshot published through an atomic
// pointer. Refreshes, capability builds and every backend call are
// serialized by a single mutex.
//
// All public methods are thread-safe.
type Directory struct {
	backend  Backend
	formats  FormatEnumerator
	dialogs  SettingsDialoger
	watcher  Watcher
	timeout  time.Duration
	nameMax  int
	now      func() time.Time
	state    atomic.Int32
	list     atomic.Pointer[DeviceList]
	dirty    atomic.Bool
	everOK   atomic.Bool
	mu       sync.Mutex                // serializes refresh, capability builds, backend calls
	caps     map[string]*CapabilityMap // guarded by mu
	hookMu   sync.RWMutex // guards log and onChange
	log      Logger
	onChange func(RefreshEvent)

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewDirectory creates a Directory over backend. Call Init before use.
func NewDirectory(backend Backend, opts Options) *Directory {
	d := &Directory{
		backend: backend,
		timeout: opts.Timeout,
		nameMax: opts.NameMaxLength,
		now:     opts.Clock,
		caps:    make(map[string]*CapabilityMap),
		log:     noopLogger{},
	}
	if d.timeout <= 0 {
		d.timeout = DefaultDeviceListTimeout
	}
	if d.nameMax <= 0 {
		d.nameMax = DefaultNameMaxLength
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.formats, _ = backend.(FormatEnumerator)
	d.dialogs, _ = backend.(SettingsDialoger)
	d.watcher, _ = backend.(Watcher)
	d.list.Store(&DeviceList{})
	return d
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.hookMu.Lock()
	d.log = logger
	d.hookMu.Unlock()
}

func (d *Directory) logger() Logger {
	d.hookMu.RLock()
	defer d.hookMu.RUnlock()
	return d.log
}

// SetOnRefresh registers a callback invoked after every refresh attempt.
// The callback runs outside the directory lock on the refreshing goroutine.
func (d *Directory) SetOnRefresh(fn func(RefreshEvent)) {
	d.hookMu.Lock()
	d.onChange = fn
	d.hookMu.Unlock()
}

// Init moves the directory to the ready state and starts the backend
// watcher, if the backend has one. The first read enumerates devices.
func (d *Directory) Init(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateUninitialized, stateReady) {
		return fmt.Errorf("%w: init called twice or after close", ErrInvalidState)
	}

	if d.watcher != nil {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.stopWatch = cancel
		d.watchDone = make(chan struct{})
		go d.watch(watchCtx)
	}

	d.logger().Info("capture directory initialised",
		"timeout", d.timeout,
		"formats", d.formats != nil,
		"watcher", d.watcher != nil,
	)
	return nil
}

func (d *Directory) watch(ctx context.Context) {
	defer close(d.watchDone)
	err := d.watcher.Watch(ctx, d.Invalidate)
	if err != nil && ctx.Err() == nil {
		d.logger().Warn("device watcher stopped", "error", err)
	}
}

// Close terminates the directory. Subsequent calls return ErrInvalidState.
func (d *Directory) Close() error {
	if d.state.Swap(stateTerminated) != stateReady {
		return nil
	}
	if d.stopWatch != nil {
		d.stopWatch()
		<-d.watchDone
	}

	d.mu.Lock()
	d.caps = make(map[string]*CapabilityMap)
	d.mu.Unlock()

	d.logger().Info("capture directory closed")
	return nil
}

// Invalidate marks the current device list stale; the next read
// re-enumerates.
func (d *Directory) Invalidate() {
	d.dirty.Store(true)
}

func (d *Directory) ready() error {
	switch d.state.Load() {
	case stateReady:
		return nil
	case stateUninitialized:
		return fmt.Errorf("%w: not initialised", ErrInvalidState)
	default:
		return fmt.Errorf("%w: closed", ErrInvalidState)
	}
}

func (d *Directory) stale(l *DeviceList) bool {
	if d.dirty.Load() || l.RefreshedAt.IsZero() {
		return true
	}
	return d.now().Sub(l.RefreshedAt) > d.timeout
}

// current returns a fresh snapshot, refreshing if the cached one is stale.
func (d *Directory) current(ctx context.Context) (*DeviceList, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if l := d.list.Load(); !d.stale(l) {
		return l, nil
	}

	d.mu.Lock()
	l := d.list.Load()
	if !d.stale(l) {
		// Another caller refreshed while we waited.
		d.mu.Unlock()
		return l, nil
	}
	ev := d.refreshLocked(ctx)
	d.mu.Unlock()

	d.emit(ev)

	if ev.Err != nil {
		if !d.everOK.Load() {
			return nil, ev.Err
		}
		d.logger().Warn("device enumeration failed, serving previous list",
			"error", ev.Err,
			"devices", l.Len(),
		)
		return d.list.Load(), nil
	}
	return ev.List, nil
}

// Refresh forces a re-enumeration and returns the new snapshot. Backend
// failures are returned; the previous list stays published.
func (d *Directory) Refresh(ctx context.Context) (*DeviceList, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	ev := d.refreshLocked(ctx)
	d.mu.Unlock()

	d.emit(ev)
	return ev.List, ev.Err
}

// refreshLocked enumerates, builds a new snapshot and publishes it.
// Caller must hold d.mu.
func (d *Directory) refreshLocked(ctx context.Context) RefreshEvent {
	start := time.Now()
	prev := d.list.Load()

	// Cleared before enumerating so an attach during the call is not lost.
	d.dirty.Store(false)

	raw, err := d.backend.EnumerateDevices(ctx)
	if err != nil {
		d.dirty.Store(true)
		return RefreshEvent{
			Err:      fmt.Errorf("%w: enumerating devices: %w", ErrBackendUnavailable, err),
			Duration: time.Since(start),
		}
	}

	devices, refs := d.decodeDevices(raw)

	ts := d.now()
	if ts.Before(prev.RefreshedAt) {
		ts = prev.RefreshedAt
	}
	next := &DeviceList{
		Epoch:       uuid.NewString(),
		Devices:     devices,
		RefreshedAt: ts,
		refs:        refs,
	}
	d.list.Store(next)
	d.everOK.Store(true)

	added, removed := diffDevices(prev.Devices, next.Devices)
	for _, rec := range removed {
		delete(d.caps, rec.UniqueID)
	}

	d.logger().Debug("device list refreshed",
		"epoch", next.Epoch,
		"count", len(devices),
		"added", len(added),
		"removed", len(removed),
	)

	return RefreshEvent{
		List:     next,
		Added:    added,
		Removed:  removed,
		Duration: time.Since(start),
	}
}

// decodeDevices converts raw backend descriptors into records, skipping
// devices that decode to neither a name nor an ID and disambiguating
// duplicate unique IDs in enumeration order. The returned refs map each
// record's UniqueID to what the backend reported for it.
func (d *Directory) decodeDevices(raw []RawDevice) ([]DeviceRecord, map[string]DeviceRef) {
	devices := make([]DeviceRecord, 0, len(raw))
	refs := make(map[string]DeviceRef, len(raw))

	for i, rd := range raw {
		name, err := DecodeString(rd.Name, rd.Encoding)
		if err != nil {
			d.logger().Warn("skipping device with undecodable name", "index", i, "error", err)
			continue
		}
		reported, err := DecodeString(rd.UniqueID, rd.Encoding)
		if err != nil {
			d.logger().Warn("skipping device with undecodable id", "index", i, "error", err)
			continue
		}
		product, err := DecodeString(rd.ProductID, rd.Encoding)
		if err != nil {
			d.logger().Debug("ignoring undecodable product id", "index", i, "error", err)
			product = ""
		}

		id := reported
		if id == "" {
			id = name
		}
		if id == "" {
			d.logger().Warn("skipping device without name or id", "index", i)
			continue
		}

		base := id
		for n := 2; ; n++ {
			if _, taken := refs[id]; !taken {
				break
			}
			id = base + "#" + strconv.Itoa(n)
		}

		refs[id] = DeviceRef{
			UniqueID: reported,
			Name:     name,
			Path:     rd.Path,
			Position: i,
		}
		devices = append(devices, DeviceRecord{
			DisplayName: TruncateName(name, d.nameMax-1),
			UniqueID:    id,
			ProductID:   product,
			DevicePath:  rd.Path,
		})
	}
	return devices, refs
}

func diffDevices(prev, next []DeviceRecord) (added, removed []DeviceRecord) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, r := range prev {
		inPrev[r.UniqueID] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, r := range next {
		inNext[r.UniqueID] = struct{}{}
		if _, ok := inPrev[r.UniqueID]; !ok {
			added = append(added, r)
		}
	}
	for _, r := range prev {
		if _, ok := inNext[r.UniqueID]; !ok {
			removed = append(removed, r)
		}
	}
	return added, removed
}

func (d *Directory) emit(ev RefreshEvent) {
	d.hookMu.RLock()
	fn := d.onChange
	d.hookMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// NumberOfDevices returns the number of attached devices, re-enumerating
// first if the cached list has expired.
func (d *Directory) NumberOfDevices(ctx context.Context) (int, error) {
	l, err := d.current(ctx)
	if err != nil {
		return 0, err
	}
	return l.Len(), nil
}

// Snapshot returns the current device list, re-enumerating first if it has
// expired. The returned list must not be modified.
func (d *Directory) Snapshot(ctx context.Context) (*DeviceList, error) {
	return d.current(ctx)
}

// Cached returns the last published device list without enumerating, or nil
// if no enumeration has succeeded yet. The list may be stale.
func (d *Directory) Cached() *DeviceList {
	l := d.list.Load()
	if l.RefreshedAt.IsZero() {
		return nil
	}
	return l
}

// Devices returns a copy of the current device records.
func (d *Directory) Devices(ctx context.Context) ([]DeviceRecord, error) {
	l, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceRecord, len(l.Devices))
	copy(out, l.Devices)
	return out, nil
}

// Device returns the record at index.
func (d *Directory) Device(ctx context.Context, index int) (DeviceRecord, error) {
	l, err := d.current(ctx)
	if err != nil {
		return DeviceRecord{}, err
	}
	if index < 0 || index >= l.Len() {
		return DeviceRecord{}, fmt.Errorf("%w: device %d of %d", ErrOutOfRange, index, l.Len())
	}
	return l.Devices[index], nil
}

// Lookup returns the record with the given unique ID.
func (d *Directory) Lookup(ctx context.Context, uniqueID string) (DeviceRecord, error) {
	l, err := d.current(ctx)
	if err != nil {
		return DeviceRecord{}, err
	}
	i := l.Index(uniqueID)
	if i < 0 {
		return DeviceRecord{}, fmt.Errorf("%w: device %q", ErrNotFound, uniqueID)
	}
	return l.Devices[i], nil
}

// GetDeviceName copies the name, unique ID and (optionally) product ID of
// the device at index into bufs as NUL-terminated strings.
//
// Every buffer is checked before any is written: on ErrBufferTooSmall the
// buffers are untouched.
func (d *Directory) GetDeviceName(ctx context.Context, index int, bufs NameBuffers) (DeviceRecord, error) {
	rec, err := d.Device(ctx, index)
	if err != nil {
		return DeviceRecord{}, err
	}
	if !bufs.fits(rec) {
		return DeviceRecord{}, fmt.Errorf("%w: device %d needs name=%d id=%d product=%d bytes",
			ErrBufferTooSmall, index, len(rec.DisplayName)+1, len(rec.UniqueID)+1, len(rec.ProductID)+1)
	}
	bufs.write(rec)
	return rec, nil
}

// CreateCapabilityMap (re)builds the capability map of a device.
func (d *Directory) CreateCapabilityMap(ctx context.Context, uniqueID string) (*CapabilityMap, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if d.formats == nil {
		return nil, fmt.Errorf("%w: format enumeration", ErrNotSupported)
	}
	if _, err := d.current(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buildLocked(ctx, uniqueID)
}

// buildLocked queries the backend and stores a new map. Caller holds d.mu.
func (d *Directory) buildLocked(ctx context.Context, uniqueID string) (*CapabilityMap, error) {
	l := d.list.Load()
	ref, ok := l.ref(uniqueID)
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, uniqueID)
	}

	raw, err := d.formats.EnumerateFormats(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating formats of %q: %w", ErrBackendUnavailable, uniqueID, err)
	}

	m, dropped := NewCapabilityMap(uniqueID, raw)
	m.epoch = l.Epoch
	d.caps[uniqueID] = m

	d.logger().Debug("capability map built",
		"device", uniqueID,
		"count", m.Len(),
		"dropped", dropped,
	)
	return m, nil
}

// capabilities returns the cached map of a device, building it if absent.
func (d *Directory) capabilities(ctx context.Context, uniqueID string) (*CapabilityMap, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if d.formats == nil {
		return nil, fmt.Errorf("%w: format enumeration", ErrNotSupported)
	}
	if _, err := d.current(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.caps[uniqueID]; ok {
		return m, nil
	}
	return d.buildLocked(ctx, uniqueID)
}

// NumberOfCapabilities returns how many capabilities a device has.
func (d *Directory) NumberOfCapabilities(ctx context.Context, uniqueID string) (int, error) {
	m, err := d.capabilities(ctx, uniqueID)
	if err != nil {
		return 0, err
	}
	return m.Len(), nil
}

// Capability returns the capability at index for a device.
func (d *Directory) Capability(ctx context.Context, uniqueID string, index int) (CaptureCapability, error) {
	m, err := d.capabilities(ctx, uniqueID)
	if err != nil {
		return CaptureCapability{}, err
	}
	return m.At(index)
}

// Capabilities returns a copy of a device's capability list.
func (d *Directory) Capabilities(ctx context.Context, uniqueID string) ([]CaptureCapability, error) {
	m, err := d.capabilities(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// BestMatchedCapability returns the index and record of the capability of a
// device that best fits req. See CapabilityMap.BestMatch for the ordering.
func (d *Directory) BestMatchedCapability(ctx context.Context, uniqueID string, req CaptureCapability) (int, CaptureCapability, error) {
	m, err := d.capabilities(ctx, uniqueID)
	if err != nil {
		return -1, CaptureCapability{}, err
	}
	return m.BestMatch(req)
}

// ShowSettingsDialog asks the backend to display its native settings dialog
// for a device. Returns ErrNotSupported when the backend has none.
func (d *Directory) ShowSettingsDialog(ctx context.Context, uniqueID, title string, parent any, x, y int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.dialogs == nil {
		return fmt.Errorf("%w: settings dialog", ErrNotSupported)
	}
	l, err := d.current(ctx)
	if err != nil {
		return err
	}
	ref, ok := l.ref(uniqueID)
	if !ok {
		return fmt.Errorf("%w: device %q", ErrNotFound, uniqueID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialogs.ShowSettingsDialog(ctx, ref, title, parent, x, y)
}
