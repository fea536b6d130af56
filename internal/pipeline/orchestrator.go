// Package pipeline turns a text concept into a part-labeled point cloud,
// escalating from the part-mesh model to the mesh-and-segment fallback and
// finally to a procedural safety net.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/geometry"
	"lumen-pipeline/internal/metrics"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/internal/ratelimit"
	"lumen-pipeline/internal/render"
	"lumen-pipeline/internal/shape"
	"lumen-pipeline/pkg/logging/logging"
)

var tracer = otel.Tracer("lumen-pipeline/internal/pipeline")

// Config holds the generation budgets.
type Config struct {
	MaxPoints       int           // default: 2048
	Timeout         time.Duration // overall budget (default: 15s)
	FallbackTimeout time.Duration // cumulative fallback budget (default: 15s)
	Workers         int           // concurrent generations (default: 4)

	// Fallback-only models are unloaded after a fallback run when device
	// memory in use exceeds this many bytes. Zero disables offloading.
	OffloadThresholdBytes uint64
	CloneDistance         float64
}

func (c Config) withDefaults() Config {
	if c.MaxPoints <= 0 {
		c.MaxPoints = 2048
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 15 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Loaders build the fallback-only models on first use. A nil loader means
// the model must already be registered.
type Loaders struct {
	Mesh      models.Factory
	Segmenter models.Factory
}

// Deps are the collaborators of an Orchestrator. Registry and Cache are
// required; the rest have usable zero values.
type Deps struct {
	Registry  *models.Registry
	Cache     *cache.ShapeCache
	Governor  *ratelimit.Governor
	Catalogue *Catalogue
	Renderer  *render.Renderer
	Device    models.DeviceMonitor
	Loaders   Loaders
}

type Orchestrator struct {
	cfg        Config
	registry   *models.Registry
	cache      *cache.ShapeCache
	governor   *ratelimit.Governor
	catalogue  *Catalogue
	renderer   *render.Renderer
	device     models.DeviceMonitor
	loaders    Loaders
	dispatcher *dispatcher
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Governor == nil {
		deps.Governor = ratelimit.NewGovernor(0)
	}
	if deps.Catalogue == nil {
		deps.Catalogue = DefaultCatalogue()
	}
	if deps.Renderer == nil {
		deps.Renderer = render.New(render.Options{})
	}
	return &Orchestrator{
		cfg:        cfg,
		registry:   deps.Registry,
		cache:      deps.Cache,
		governor:   deps.Governor,
		catalogue:  deps.Catalogue,
		renderer:   deps.Renderer,
		device:     deps.Device,
		loaders:    deps.Loaders,
		dispatcher: newDispatcher(cfg.Workers),
	}
}

// Catalogue returns the template catalogue used for matching.
func (o *Orchestrator) Catalogue() *Catalogue { return o.catalogue }

// outcome is a successful generation before it is stamped into a Result.
type outcome struct {
	sample    *geometry.Sample
	partNames []string
	tier      shape.Tier
}

type stageStatus int

const (
	stageOK stageStatus = iota
	stageSkipped
	stageInsufficient
	stageFailed
)

func (s stageStatus) String() string {
	switch s {
	case stageOK:
		return "ok"
	case stageSkipped:
		return "skipped"
	case stageInsufficient:
		return "insufficient"
	default:
		return "failed"
	}
}

// stageResult is the tagged result of one generation tier.
type stageResult struct {
	status stageStatus
	out    *outcome
	err    error
}

func succeeded(out *outcome) stageResult { return stageResult{status: stageOK, out: out} }
func skipped(err error) stageResult { return stageResult{status: stageSkipped, err: err} }
func insufficient(err error) stageResult { return stageResult{status: stageInsufficient, err: err} }
func failed(err error) stageResult { return stageResult{status: stageFailed, err: err} }
func (r stageResult) outOfMemory() bool { return r.status == stageFailed && models.IsOutOfMemory(r.err) }

// Generate returns the point cloud for text. Cache hits skip rate limiting
// and generation. Errors are *apperr.Error values.
func (o *Orchestrator) Generate(ctx context.Context, text string) (*shape.Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "generate", trace.WithAttributes(attribute.String("concept", text)))
	defer span.End()
	logger := logging.L(ctx)

	if res, ok := o.cache.Get(ctx, text); ok {
		elapsed := time.Since(start)
		res.Cached = true
		res.GenerationTimeMS = millis(elapsed)
		span.SetAttributes(attribute.Bool("cached", true), attribute.String("pipeline_used", "cache"))
		metrics.ObserveGeneration("cache", elapsed)
		return res, nil
	}
	span.SetAttributes(attribute.Bool("cached", false))

	if d := o.governor.Admit(); !d.Allowed {
		metrics.GenerationRateLimitedTotal.Inc()
		logger.Warn("generation_rate_limited",
			zap.String("text", text),
			zap.Int("recent_generations", d.InWindow),
			zap.Int("limit", d.Limit),
			zap.Duration("retry_after", d.RetryAfter),
		)
		return nil, fail(span, apperr.RateLimited(d.Limit, d.RetryAfter))
	}

	tmpl := o.catalogue.Match(text)
	logger.Info("generating",
		zap.String("text", text),
		zap.String("template", tmpl.Type),
		zap.Int("parts", tmpl.NumParts()),
	)

	out, err := dispatch(ctx, o.dispatcher, o.cfg.Timeout, func(work context.Context) (*outcome, error) {
		return o.generate(work, text, tmpl)
	})
	switch {
	case errors.Is(err, errDispatchTimeout):
		logger.Warn("generation_timeout", zap.String("text", text), zap.Duration("budget", o.cfg.Timeout))
		return nil, fail(span, apperr.GenerationTimeout(text, o.cfg.Timeout))
	case models.IsOutOfMemory(err):
		o.reclaim(ctx)
		return nil, fail(span, apperr.GPUOutOfMemory(err))
	case err != nil:
		return nil, fail(span, apperr.GenerationFailed(text, err))
	}

	elapsed := time.Since(start)
	res := &shape.Result{
		Positions:        out.sample.Positions,
		PartIDs:          out.sample.PartIDs,
		PartNames:        out.partNames,
		TemplateType:     tmpl.Type,
		BoundingBox:      out.sample.BoundingBox,
		Pipeline:         out.tier,
		GenerationTimeMS: millis(elapsed),
	}
	if err := o.cache.Set(ctx, text, res); err != nil {
		logger.Warn("cache_write_failed", zap.String("text", text), zap.Error(err))
	}

	span.SetAttributes(
		attribute.String("pipeline_used", string(out.tier)),
		attribute.Float64("latency_ms", res.GenerationTimeMS),
	)
	metrics.ObserveGeneration(string(out.tier), elapsed)
	logger.Info("generated",
		zap.String("text", text),
		zap.Float64("time_ms", res.GenerationTimeMS),
		zap.String("pipeline", string(out.tier)),
		zap.Int("parts", tmpl.NumParts()),
	)
	return res, nil
}

// generate runs the tiers in order on a worker. It only returns an error for
// device memory exhaustion; every other failure ends in the safety net.
func (o *Orchestrator) generate(ctx context.Context, text string, tmpl Template) (*outcome, error) {
	logger := logging.L(ctx).With(zap.String("text", text))

	prompt := CanonicalPrompt(strings.TrimSpace(text), tmpl)
	logger.Debug("canonical_prompt", zap.String("prompt", prompt))

	img, res := o.referenceImage(ctx, prompt)
	if res.outOfMemory() {
		return nil, res.err
	}
	if img != nil {
		res = o.primary(ctx, img, text, tmpl)
		if res.status == stageOK {
			return res.out, nil
		}
		if res.outOfMemory() {
			return nil, res.err
		}
		logger.Info("primary_pipeline_escalating", zap.Stringer("status", res.status), zap.Error(res.err))

		res = o.fallback(ctx, img, text, tmpl)
		if res.status == stageOK {
			return res.out, nil
		}
		if res.outOfMemory() {
			return nil, res.err
		}
		logger.Warn("fallback_pipeline_failed", zap.Error(res.err))
	} else {
		logger.Info("image_synthesis_unavailable", zap.Stringer("status", res.status), zap.Error(res.err))
	}

	logger.Warn("all_pipelines_failed_using_mock")
	return o.safetyNet(text, tmpl), nil
}

func (o *Orchestrator) referenceImage(ctx context.Context, prompt string) (image.Image, stageResult) {
	synth, err := models.Lookup[models.ImageSynthesizer](o.registry, models.ImageModel)
	if err != nil {
		return nil, skipped(err)
	}
	start := time.Now()
	img, err := synth.SynthesizeImage(ctx, prompt)
	if err != nil {
		return nil, failed(fmt.Errorf("synthesize image: %w", err))
	}
	if img == nil {
		return nil, failed(errors.New("synthesize image: no image returned"))
	}
	logging.L(ctx).Info("reference_image_generated",
		zap.Stringer("size", img.Bounds().Size()),
		zap.Float64("time_ms", millis(time.Since(start))),
	)
	return img, stageResult{status: stageOK}
}

// primary samples the part meshes directly when enough of them are usable.
func (o *Orchestrator) primary(ctx context.Context, img image.Image, text string, tmpl Template) stageResult {
	logger := logging.L(ctx)
	synth, err := models.Lookup[models.PartMeshSynthesizer](o.registry, models.PartsModel)
	if err != nil {
		return skipped(err)
	}

	start := time.Now()
	meshes, err := synth.SynthesizeParts(ctx, img, tmpl.NumParts())
	if err != nil {
		return failed(fmt.Errorf("synthesize parts: %w", err))
	}
	meshMS := millis(time.Since(start))

	valid := make([]*geometry.Mesh, 0, len(meshes))
	for _, m := range meshes {
		if m.Valid() {
			valid = append(valid, m)
		}
	}
	if float64(len(valid)) < max(float64(tmpl.NumParts())*0.5, 1) {
		logger.Warn("partcrafter_insufficient_parts",
			zap.Int("expected", tmpl.NumParts()),
			zap.Int("real", len(valid)),
			zap.Int("total", len(meshes)),
		)
		return insufficient(fmt.Errorf("%d of %d part meshes usable", len(valid), tmpl.NumParts()))
	}

	sample, err := geometry.SampleParts(valid, o.cfg.MaxPoints, geometry.NewRand(Seed(text)))
	if err != nil {
		return failed(fmt.Errorf("sample parts: %w", err))
	}

	logger.Info("primary_pipeline_complete",
		zap.Int("real_parts", len(valid)),
		zap.Int("total_parts", len(meshes)),
		zap.Float64("mesh_ms", meshMS),
		zap.Float64("total_ms", millis(time.Since(start))),
	)
	return succeeded(&outcome{sample: sample, partNames: partNames(tmpl, len(valid)), tier: shape.TierPrimary})
}

// partNames names the first n parts, inventing names past the template's list.
func partNames(tmpl Template, n int) []string {
	names := make([]string, n)
	for i := range names {
		if i < len(tmpl.PartNames) {
			names[i] = tmpl.PartNames[i]
		} else {
			names[i] = fmt.Sprintf("part_%d", i)
		}
	}
	return names
}

// fallback builds one mesh, renders it, segments every view and fuses the
// masks into face labels. Its steps share one cumulative budget.
func (o *Orchestrator) fallback(ctx context.Context, img image.Image, text string, tmpl Template) stageResult {
	logger := logging.L(ctx)
	start := time.Now()
	budget := o.cfg.FallbackTimeout
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	overBudget := func(step string) error {
		if elapsed := time.Since(start); elapsed > budget {
			logger.Warn("fallback_timeout", zap.String("step", step), zap.Duration("elapsed", elapsed))
			return fmt.Errorf("fallback exceeded %s after %s", budget, step)
		}
		return nil
	}

	mesher, err := loadModel[models.MeshSynthesizer](ctx, o.registry, models.MeshModel, o.loaders.Mesh)
	if err != nil {
		return failed(err)
	}
	segmenter, err := loadModel[models.Segmenter](ctx, o.registry, models.SegmenterModel, o.loaders.Segmenter)
	if err != nil {
		return failed(err)
	}

	mesh, err := mesher.SynthesizeMesh(ctx, img)
	if err != nil {
		return failed(fmt.Errorf("synthesize mesh: %w", err))
	}
	if mesh == nil || !mesh.Valid() {
		return failed(fmt.Errorf("synthesize mesh: %w", geometry.ErrEmptyMesh))
	}
	meshMS := millis(time.Since(start))
	if err := overBudget("mesh"); err != nil {
		return failed(err)
	}

	t := time.Now()
	views, err := o.renderer.Render(ctx, mesh)
	if err != nil {
		return failed(fmt.Errorf("render views: %w", err))
	}
	renderMS := millis(time.Since(t))
	if err := overBudget("render"); err != nil {
		return failed(err)
	}

	t = time.Now()
	fuseViews := make([]geometry.ViewMasks, 0, len(views))
	for _, v := range views {
		masks, err := segmenter.Segment(ctx, v.Color, tmpl.PartNames)
		if err != nil {
			return failed(fmt.Errorf("segment %s view: %w", v.Name, err))
		}
		fuseViews = append(fuseViews, geometry.ViewMasks{Masks: masks, FaceIDs: v.FaceIDs})
	}
	segmentMS := millis(time.Since(t))
	if err := overBudget("segment"); err != nil {
		return failed(err)
	}

	t = time.Now()
	labels, stats := geometry.FuseMasks(geometry.FuseInput{
		Views:         fuseViews,
		Centroids:     render.Normalize(mesh).FaceCentroids(),
		PartNames:     tmpl.PartNames,
		CloneDistance: o.cfg.CloneDistance,
	})
	fuseMS := millis(time.Since(t))

	sample, err := geometry.SampleLabeled(mesh, labels, o.cfg.MaxPoints, geometry.NewRand(Seed(text)))
	if err != nil {
		return failed(fmt.Errorf("sample mesh: %w", err))
	}

	logger.Info("fallback_pipeline_complete",
		zap.Float64("mesh_gen_ms", meshMS),
		zap.Float64("render_ms", renderMS),
		zap.Float64("segment_ms", segmentMS),
		zap.Float64("mask_map_ms", fuseMS),
		zap.Float64("total_ms", millis(time.Since(start))),
		zap.Int("vertices", len(mesh.Vertices)),
		zap.Int("faces", len(mesh.Faces)),
		zap.Int("parts_found", stats.PartsFound),
		zap.Int("symmetric_clones", len(stats.Clones)),
		zap.Bool("labels_defaulted", stats.Defaulted),
	)

	o.offload(ctx)
	return succeeded(&outcome{sample: sample, partNames: tmpl.PartNames, tier: shape.TierFallback})
}

// loadModel returns the registered model, loading it through factory when one
// is given.
func loadModel[T any](ctx context.Context, r *models.Registry, name string, factory models.Factory) (T, error) {
	if factory == nil {
		return models.Lookup[T](r, name)
	}
	return models.LoadAs[T](ctx, r, name, factory)
}

// offload unloads the fallback-only models when device memory is above the
// configured threshold.
func (o *Orchestrator) offload(ctx context.Context) {
	if o.device == nil || o.cfg.OffloadThresholdBytes == 0 {
		return
	}
	logger := logging.L(ctx)
	allocated, err := o.device.MemoryAllocated(ctx)
	if err != nil {
		logger.Debug("device_memory_unavailable", zap.Error(err))
		return
	}
	if allocated <= o.cfg.OffloadThresholdBytes {
		return
	}
	logger.Info("vram_offload_triggered",
		zap.Float64("allocated_gb", float64(allocated)/1e9),
		zap.Float64("threshold_gb", float64(o.cfg.OffloadThresholdBytes)/1e9),
	)
	for _, name := range []string{models.MeshModel, models.SegmenterModel} {
		if err := o.registry.Unload(ctx, name); err != nil {
			logger.Warn("model_unload_failed", zap.String("model", name), zap.Error(err))
		}
	}
}

// reclaim makes one attempt to release device memory after exhaustion.
func (o *Orchestrator) reclaim(ctx context.Context) {
	logger := logging.L(ctx)
	logger.Error("gpu_out_of_memory")
	if o.device == nil {
		return
	}
	if err := o.device.Reclaim(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("device_reclaim_failed", zap.Error(err))
	}
}

func (o *Orchestrator) safetyNet(text string, tmpl Template) *outcome {
	return &outcome{
		sample:    ProceduralCloud(Seed(text), o.cfg.MaxPoints, tmpl.NumParts()),
		partNames: tmpl.PartNames,
		tier:      shape.TierMock,
	}
}

func fail(span trace.Span, err *apperr.Error) error {
	metrics.GenerationErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind))
	return err
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
