package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/media"
	"github.com/videoforge/api/internal/model"
)

// Pipeline turns a submitted project into a single encoded file in four
// stages: validate, render each clip to a uniform intermediate, concatenate,
// then blend transitions. Intermediates live in a per-job work directory
// that is removed whether the render succeeds or fails.
type Pipeline struct {
	runner    media.Invoker
	resolver  Resolver
	outputDir string
	workDir   string
}

func NewPipeline(runner media.Invoker, resolver Resolver, outputDir, workDir string) *Pipeline {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Pipeline{
		runner:    runner,
		resolver:  resolver,
		outputDir: outputDir,
		workDir:   workDir,
	}
}

// sourceDurationSlack absorbs container duration rounding when checking a
// clip's range against its probed source.
const sourceDurationSlack = 0.1

// clipRef pairs a timeline clip with its resolved source.
type clipRef struct {
	clip model.Clip
	kind model.AssetKind
	path string
}

// Render executes the full pipeline for one job and returns the final
// output path. Progress lands on the sink; the returned error is already
// classified for retry decisions.
func (p *Pipeline) Render(ctx context.Context, jobID string, payload model.RenderJobPayload, sink Sink) (outPath string, err error) {
	t := newTracker(sink)
	t.report(ctx, 0, "validating")

	settings := payload.ExportSettings
	if err := settings.Validate(); err != nil {
		return "", err
	}

	refs, err := p.gatherClips(payload.ProjectData)
	if err != nil {
		return "", err
	}
	t.report(ctx, progressValidated, "validating")

	work := filepath.Join(p.workDir, "render-"+jobID)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(work); rmErr != nil {
			log.Warn().Err(rmErr).Str("jobId", jobID).Msg("work dir cleanup failed")
		}
	}()

	segs, err := p.renderClips(ctx, t, refs, settings, work)
	if err != nil {
		return "", err
	}

	combined, err := p.combine(ctx, t, segs, settings, work)
	if err != nil {
		return "", err
	}

	final, err := p.applyTransitions(ctx, t, segs, combined, settings, work)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(p.outputDir, fmt.Sprintf("%s.%s", jobID, settings.Format))
	if err := p.publish(final, dest); err != nil {
		return "", err
	}

	t.report(ctx, progressDone, "completed")
	return dest, nil
}

// gatherClips flattens every track into one render order. Sorting is stable
// on start time so clips sharing a start keep their track order.
func (p *Pipeline) gatherClips(project model.ProjectData) ([]clipRef, error) {
	if project.Timeline.TotalClips() == 0 {
		return nil, &EmptyProjectError{ProjectName: project.ProjectSettings.Name}
	}

	assets := make(map[string]model.Asset, len(project.AssetLibrary))
	for _, a := range project.AssetLibrary {
		assets[a.ID] = a
	}

	var refs []clipRef
	tracks := append(append([][]model.Clip{}, project.Timeline.VideoTracks...), project.Timeline.AudioTracks...)
	for _, track := range tracks {
		for _, clip := range track {
			if err := clip.Validate(); err != nil {
				return nil, err
			}
			asset, ok := assets[clip.AssetID]
			if !ok {
				return nil, &AssetNotFoundError{AssetID: clip.AssetID, ClipID: clip.ID}
			}
			path, err := p.resolver.Resolve(asset)
			if err != nil {
				var nf *AssetNotFoundError
				if errors.As(err, &nf) {
					nf.ClipID = clip.ID
				}
				return nil, err
			}
			refs = append(refs, clipRef{clip: clip, kind: asset.Kind, path: path})
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].clip.StartTime < refs[j].clip.StartTime
	})
	return refs, nil
}

func (p *Pipeline) renderClips(ctx context.Context, t *tracker, refs []clipRef, settings model.ExportSettings, work string) ([]media.Segment, error) {
	durations := make([]float64, len(refs))
	for i, r := range refs {
		durations[i] = r.clip.Duration
	}
	slices := clipSlices(durations)

	segs := make([]media.Segment, 0, len(refs))
	for i, r := range refs {
		// Stills loop for as long as asked; timed sources must actually
		// hold the media the seek and trim will read.
		if r.kind != model.AssetKindImage {
			src, probeErr := p.runner.Probe(ctx, r.path)
			if probeErr != nil {
				return nil, classify(ctx, "probe", r.clip.ID, probeErr)
			}
			if need := r.clip.StartTime + r.clip.Duration; need > src+sourceDurationSlack {
				return nil, &SourceRangeError{ClipID: r.clip.ID, SourceDuration: src, Needed: need}
			}
		}

		out := filepath.Join(work, fmt.Sprintf("clip_%03d.%s", i, settings.Format))
		args, err := media.BuildClipArgs(media.ClipInput{
			SourcePath: r.path,
			Kind:       r.kind,
			Clip:       r.clip,
			Settings:   settings,
		}, out)
		if err != nil {
			return nil, err
		}

		lo, hi := slices[i][0], slices[i][1]
		t.report(ctx, lo, "rendering clips")
		err = p.runner.Run(ctx, args, r.clip.Duration, func(frac float64) {
			t.report(ctx, band(lo, hi, frac), "rendering clips")
		})
		if err != nil {
			return nil, classify(ctx, "clip", r.clip.ID, err)
		}

		segs = append(segs, media.Segment{
			Path:       out,
			Duration:   r.clip.Duration,
			Transition: r.clip.Transition,
		})
	}
	t.report(ctx, progressClipsEnd, "rendering clips")
	return segs, nil
}

func (p *Pipeline) combine(ctx context.Context, t *tracker, segs []media.Segment, settings model.ExportSettings, work string) (string, error) {
	out := filepath.Join(work, fmt.Sprintf("combined.%s", settings.Format))
	args, err := media.BuildConcatArgs(segs, settings, out)
	if err != nil {
		return "", err
	}

	total := 0.0
	for _, s := range segs {
		total += s.Duration
	}

	t.report(ctx, progressCombineStart, "combining")
	err = p.runner.Run(ctx, args, total, func(frac float64) {
		t.report(ctx, band(progressCombineStart, progressCombineEnd, frac), "combining")
	})
	if err != nil {
		return "", classify(ctx, "combine", "", err)
	}
	t.report(ctx, progressCombineEnd, "combining")
	return out, nil
}

// applyTransitions rebuilds the final stream from the per-clip
// intermediates when any boundary declares a transition; otherwise the
// concatenated file is already final.
func (p *Pipeline) applyTransitions(ctx context.Context, t *tracker, segs []media.Segment, combined string, settings model.ExportSettings, work string) (string, error) {
	if len(segs) < 2 || !media.HasTransitions(segs) {
		return combined, nil
	}

	out := filepath.Join(work, fmt.Sprintf("final.%s", settings.Format))
	args, err := media.BuildTransitionArgs(segs, settings, out)
	if err != nil {
		return "", err
	}

	t.report(ctx, progressCombineEnd+1, "applying transitions")
	err = p.runner.Run(ctx, args, media.TotalDuration(segs), func(frac float64) {
		t.report(ctx, band(progressCombineEnd+1, progressTransitionsHi, frac), "applying transitions")
	})
	if err != nil {
		return "", classify(ctx, "transitions", "", err)
	}
	t.report(ctx, progressTransitionsHi, "applying transitions")
	return out, nil
}

// publish moves the finished file into the output directory. Rename is
// atomic when work and output share a filesystem; the copy path covers the
// cross-device case and still finishes with a rename so readers never see a
// partial file.
func (p *Pipeline) publish(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	part := dest + ".part"
	if err := copyFile(src, part); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

// classify wraps encoder failures so the worker can tell a deadline abort
// from a transient encoder error.
func classify(ctx context.Context, stage, clipID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Stage: stage, Err: err}
	}
	return &ExternalProcessError{Stage: stage, ClipID: clipID, Err: err}
}
