// Package scanner walks a document and produces the ordered list of image
// occurrences to embed.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/report"
)

// Reader is the part of a host document the scanner reads
type Reader interface {
	Path() string
	Sheets(ctx context.Context) ([]host.Sheet, error)
	Definitions(ctx context.Context) ([]host.Definition, error)
	Entities(ctx context.Context, c host.ContainerID) ([]host.Entity, error)
	Extents(ctx context.Context, id host.EntityID) (geometry.Box, error)
}

// Scanner builds occurrence plans
type Scanner struct {
	missing report.Sink
	exists  func(path string) bool
	now     func() time.Time
}

// New creates a scanner that reports missing images to sink
func New(sink report.Sink) *Scanner {
	return &Scanner{
		missing: sink,
		exists:  fileExists,
		now:     time.Now,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// definitionImage is an image inside a component definition, in
// definition space
type definitionImage struct {
	id       host.EntityID
	fileName string
	resolved string
	local    geometry.Box
}

// Scan produces the plan for doc. Images resolve against folder, the
// directory holding the document.
func (s *Scanner) Scan(ctx context.Context, doc Reader, folder string) (domain.Plan, error) {
	var plan domain.Plan

	sheets, err := doc.Sheets(ctx)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("failed to list sheets: %w", err)
	}

	// Step 1: images placed directly on sheets
	placements := make(map[string][]host.Entity)
	for _, sheet := range sheets {
		if sheet.Model {
			continue
		}

		entities, err := doc.Entities(ctx, sheet.Container)
		if err != nil {
			return domain.Plan{}, fmt.Errorf("failed to list entities on sheet %s: %w", sheet.Name, err)
		}

		for _, e := range entities {
			switch e.Kind {
			case host.KindComponentRef:
				placements[sheet.Name] = append(placements[sheet.Name], e)
			case host.KindRasterImage:
				fileName, resolved, ok := s.resolve(doc, "LAYOUT:"+sheet.Name, folder, e.SourceFile, &plan)
				if !ok {
					continue
				}

				box, err := doc.Extents(ctx, e.ID)
				if err != nil || !box.Measurable() {
					continue
				}

				plan.Occurrences = append(plan.Occurrences, domain.Occurrence{
					FileName:     fileName,
					ResolvedPath: resolved,
					Sheet:        sheet.Name,
					TargetMin:    box.Min,
					TargetMax:    box.Max,
					EraseRef:     e.ID,
				})
			}
		}
	}

	// Step 2: images inside reusable definitions, in local space
	byDefinition, err := s.definitionImages(ctx, doc, folder, &plan)
	if err != nil {
		return domain.Plan{}, err
	}

	// Step 3: lift definition images through every placement on a sheet
	if len(byDefinition) > 0 {
		erased := make(map[host.EntityID]bool)
		for _, sheet := range sheets {
			for _, ref := range placements[sheet.Name] {
				images := byDefinition[strings.ToLower(ref.Definition)]
				for _, img := range images {
					box := geometry.TransformBox(ref.Transform, img.local)
					if !box.Measurable() {
						continue
					}

					plan.Occurrences = append(plan.Occurrences, domain.Occurrence{
						FileName:     img.fileName,
						ResolvedPath: img.resolved,
						Sheet:        sheet.Name,
						TargetMin:    box.Min,
						TargetMax:    box.Max,
					})

					if !erased[img.id] {
						erased[img.id] = true
						plan.DefinitionImages = append(plan.DefinitionImages, img.id)
					}
				}
			}
		}
	}

	SortOccurrences(plan.Occurrences)
	return plan, nil
}

func (s *Scanner) definitionImages(ctx context.Context, doc Reader, folder string, plan *domain.Plan) (map[string][]definitionImage, error) {
	defs, err := doc.Definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	byDefinition := make(map[string][]definitionImage)
	for _, def := range defs {
		if def.Layout || def.External || def.Dependent || def.Anonymous {
			continue
		}

		entities, err := doc.Entities(ctx, def.Container)
		if err != nil {
			return nil, fmt.Errorf("failed to list entities in definition %s: %w", def.Name, err)
		}

		for _, e := range entities {
			if e.Kind != host.KindRasterImage {
				continue
			}

			fileName, resolved, ok := s.resolve(doc, "BLOCKDEF:"+def.Name, folder, e.SourceFile, plan)
			if !ok {
				continue
			}

			box, err := doc.Extents(ctx, e.ID)
			if err != nil || !box.Measurable() {
				continue
			}

			key := strings.ToLower(def.Name)
			byDefinition[key] = append(byDefinition[key], definitionImage{
				id:       e.ID,
				fileName: fileName,
				resolved: resolved,
				local:    box,
			})
		}
	}
	return byDefinition, nil
}

// resolve maps a stored source path to a file next to the document,
// recording a missing-image entry when it is not there.
func (s *Scanner) resolve(doc Reader, where, folder, source string, plan *domain.Plan) (string, string, bool) {
	fileName := ImageFileName(source)
	if fileName == "" {
		return "", "", false
	}

	resolved := filepath.Join(folder, fileName)
	if !s.exists(resolved) {
		plan.Missing++
		s.missing.Missing(report.MissingRecord{
			Time:         s.now(),
			Document:     doc.Path(),
			Where:        where,
			FileName:     fileName,
			ExpectedPath: resolved,
		})
		return "", "", false
	}
	return fileName, resolved, true
}

// ImageFileName extracts the bare file name from a stored source path.
// Hosts may keep Windows paths, so both separators count.
func ImageFileName(source string) string {
	src := strings.Trim(strings.TrimSpace(source), `"`)
	if i := strings.LastIndexAny(src, `/\`); i >= 0 {
		src = src[i+1:]
	}
	return strings.TrimSpace(src)
}

// SortOccurrences orders by file name (case-insensitive), then target min
// X, then target min Y.
func SortOccurrences(occ []domain.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := strings.ToLower(occ[i].FileName), strings.ToLower(occ[j].FileName)
		if a != b {
			return a < b
		}
		if occ[i].TargetMin.X != occ[j].TargetMin.X {
			return occ[i].TargetMin.X < occ[j].TargetMin.X
		}
		return occ[i].TargetMin.Y < occ[j].TargetMin.Y
	})
}
