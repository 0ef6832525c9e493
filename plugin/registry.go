package plugin

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-viper/mapstructure/v2"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

type entry struct {
	ext        Extension
	schemaText string
	schema     *gojsonschema.Schema
}

// Registry resolves plugin ids to loaded extensions
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]*entry
	version    string // docpipe version
	logger     *zap.SugaredLogger
}

// NewRegistry creates a new extension registry
func NewRegistry(hostVersion string, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		extensions: make(map[string]*entry),
		version:    hostVersion,
		logger:     logger.Named("registry"),
	}
}

// Register registers an extension.
// Returns error if the plugin id conflicts, the version is incompatible or
// the published config schema does not compile.
func (r *Registry) Register(ext Extension) error {
	if ext == nil {
		return errors.NewInvalidRequestError("nil extension")
	}
	metadata := ext.Metadata()
	if strings.TrimSpace(metadata.PluginID) == "" {
		return errors.NewInvalidRequestError("extension has no plugin id")
	}
	if len(Capabilities(ext)) == 0 {
		return errors.NewInvalidRequestError("extension %q serves no capability", metadata.PluginID)
	}

	if err := r.validateVersion(metadata); err != nil {
		return errors.Wrapf(err, "version incompatible for %s", metadata.PluginID)
	}

	e := &entry{ext: ext, schemaText: Schema(ext)}
	if e.schemaText != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(e.schemaText))
		if err != nil {
			return errors.Wrapf(err, "config schema of %s does not compile", metadata.PluginID)
		}
		e.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extensions[metadata.PluginID]; exists {
		return errors.Newf("extension already registered: %s", metadata.PluginID)
	}
	r.extensions[metadata.PluginID] = e

	r.logger.Infow("Registered extension",
		"plugin_id", metadata.PluginID,
		"version", metadata.Version,
		"capabilities", Capabilities(ext))
	return nil
}

// Unregister removes an extension without closing it.
func (r *Registry) Unregister(pluginID string) (Extension, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.extensions[pluginID]
	if !ok {
		return nil, false
	}
	delete(r.extensions, pluginID)
	return e.ext, true
}

// Get retrieves an extension by plugin id
func (r *Registry) Get(pluginID string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extensions[pluginID]
	if !ok {
		return nil, false
	}
	return e.ext, true
}

// List returns all registered extensions sorted by plugin id
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.extensions))
	for _, e := range r.extensions {
		infos = append(infos, Info{
			Metadata:     e.ext.Metadata(),
			Capabilities: Capabilities(e.ext),
			HasSchema:    e.schemaText != "",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PluginID < infos[j].PluginID })
	return infos
}

func (r *Registry) resolve(kind pipes.Kind, pluginID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.extensions[pluginID]
	r.mu.RUnlock()
	if !ok || !HasCapability(e.ext, kind) {
		return nil, errors.NewExtensionNotFoundError(string(kind), pluginID)
	}
	return e, nil
}

// ResolveFetcher returns the fetcher registered under pluginID.
func (r *Registry) ResolveFetcher(pluginID string) (Fetcher, error) {
	e, err := r.resolve(pipes.KindFetcher, pluginID)
	if err != nil {
		return nil, err
	}
	f, ok := e.ext.(Fetcher)
	if !ok {
		return nil, errors.NewExtensionNotFoundError(string(pipes.KindFetcher), pluginID)
	}
	return f, nil
}

// ResolveEmitter returns the emitter registered under pluginID.
func (r *Registry) ResolveEmitter(pluginID string) (Emitter, error) {
	e, err := r.resolve(pipes.KindEmitter, pluginID)
	if err != nil {
		return nil, err
	}
	em, ok := e.ext.(Emitter)
	if !ok {
		return nil, errors.NewExtensionNotFoundError(string(pipes.KindEmitter), pluginID)
	}
	return em, nil
}

// ResolveIterator returns the pipe iterator registered under pluginID.
func (r *Registry) ResolveIterator(pluginID string) (PipeIterator, error) {
	e, err := r.resolve(pipes.KindIterator, pluginID)
	if err != nil {
		return nil, err
	}
	it, ok := e.ext.(PipeIterator)
	if !ok {
		return nil, errors.NewExtensionNotFoundError(string(pipes.KindIterator), pluginID)
	}
	return it, nil
}

// ResolveConfigType returns the config binding of pluginID for kind.
func (r *Registry) ResolveConfigType(kind pipes.Kind, pluginID string) (ConfigType, error) {
	e, err := r.resolve(kind, pluginID)
	if err != nil {
		return ConfigType{}, err
	}
	factory, ok := e.ext.(ConfigFactory)
	if !ok {
		return ConfigType{}, errors.NewExtensionNotFoundError(string(kind), pluginID)
	}
	return ConfigType{PluginID: pluginID, Kind: kind, Schema: e.schemaText, factory: factory}, nil
}

func (r *Registry) ResolveFetcherConfigType(pluginID string) (ConfigType, error) {
	return r.ResolveConfigType(pipes.KindFetcher, pluginID)
}

func (r *Registry) ResolveEmitterConfigType(pluginID string) (ConfigType, error) {
	return r.ResolveConfigType(pipes.KindEmitter, pluginID)
}

func (r *Registry) ResolveIteratorConfigType(pluginID string) (ConfigType, error) {
	return r.ResolveConfigType(pipes.KindIterator, pluginID)
}

// Validate checks raw against the schema pluginID publishes. Unknown plugins
// and plugins without a schema pass: validity is only decided at use time.
func (r *Registry) Validate(pluginID string, raw map[string]any) error {
	r.mu.RLock()
	e, ok := r.extensions[pluginID]
	r.mu.RUnlock()
	if !ok || e.schema == nil {
		return nil
	}
	return validateSchema(e.schema, pluginID, raw)
}

// Hydrate converts a generic config map into ext's native config type.
//
// The map is validated against the extension's schema when it publishes one,
// then decoded field by field using the native type's json tags. Values are
// never handed over by reference.
func (r *Registry) Hydrate(ext ConfigFactory, raw map[string]any) (any, error) {
	pluginID := ""
	if x, ok := ext.(Extension); ok {
		pluginID = x.Metadata().PluginID
	}

	if raw == nil {
		raw = map[string]any{}
	}

	r.mu.RLock()
	e, registered := r.extensions[pluginID]
	r.mu.RUnlock()
	if registered && e.schema != nil {
		if err := validateSchema(e.schema, pluginID, raw); err != nil {
			return nil, err
		}
	}

	target := ext.NewConfig()
	if target == nil {
		return nil, errors.NewInvalidConfigError(pluginID, errors.New("extension returned a nil config"))
	}
	if reflect.ValueOf(target).Kind() != reflect.Ptr {
		return nil, errors.NewInvalidConfigError(pluginID, errors.Newf("NewConfig must return a pointer, got %T", target))
	}

	if err := decode(raw, target); err != nil {
		return nil, errors.NewInvalidConfigError(pluginID, err)
	}
	return target, nil
}

// HydrateConfig resolves the capability of cfg's kind and hydrates its config.
func (r *Registry) HydrateConfig(cfg pipes.ExtensionConfig) (Extension, any, error) {
	ct, err := r.ResolveConfigType(cfg.Kind, cfg.PluginID)
	if err != nil {
		return nil, nil, err
	}
	native, err := r.Hydrate(ct.factory, cfg.Config)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s %q", cfg.Kind, cfg.ID)
	}
	ext, _ := r.Get(cfg.PluginID)
	return ext, native, nil
}

func decode(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, "failed to build config decoder")
	}
	return decoder.Decode(raw)
}

func validateSchema(schema *gojsonschema.Schema, pluginID string, raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return errors.NewInvalidConfigError(pluginID, errors.Wrap(err, "schema validation failed"))
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return errors.NewInvalidConfigError(pluginID, errors.Newf("%s", strings.Join(msgs, "; ")))
}

// CloseAll closes every extension implementing Closer, in reverse id order.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.extensions))
	exts := make(map[string]Extension, len(r.extensions))
	for id, e := range r.extensions {
		ids = append(ids, id)
		exts[id] = e.ext
	}
	r.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var errs error
	for _, id := range ids {
		c, ok := exts[id].(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to close extension %s", id))
		}
	}
	return errs
}

// validateVersion checks if the extension is compatible with the docpipe version
func (r *Registry) validateVersion(metadata Metadata) error {
	if metadata.HostVersion == "" {
		// No version constraint specified
		return nil
	}

	constraint, err := semver.NewConstraint(metadata.HostVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid version constraint %s", metadata.HostVersion)
	}

	hostVer, err := semver.NewVersion(r.version)
	if err != nil {
		// dev builds carry no semver; constraints cannot be checked
		r.logger.Debugw("Skipping version check for non-semver host",
			"host_version", r.version,
			"plugin_id", metadata.PluginID)
		return nil
	}

	if !constraint.Check(hostVer) {
		return errors.Newf("extension requires docpipe %s, but running %s", metadata.HostVersion, r.version)
	}

	return nil
}
