package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"audioanchor/internal/fsprobe"
	"audioanchor/pkg/models"
)

// mergedEntry is one name in the natural-order union of disk and catalog
type mergedEntry struct {
	name   string
	origin Origin
	row    models.AudioFile // set when origin includes InCatalogOnly
}

// mergeListings unions on-disk names with catalog rows keyed by title and
// orders the result with cmp.
func mergeListings(onDisk []string, rows []models.AudioFile, cmp Comparator) []mergedEntry {
	byName := make(map[string]*mergedEntry, len(onDisk)+len(rows))
	for _, name := range onDisk {
		byName[name] = &mergedEntry{name: name, origin: OnDiskOnly}
	}
	for _, row := range rows {
		if e, ok := byName[row.Title]; ok {
			e.origin |= InCatalogOnly
			e.row = row
			continue
		}
		byName[row.Title] = &mergedEntry{name: row.Title, origin: InCatalogOnly, row: row}
	}

	merged := make([]mergedEntry, 0, len(byName))
	for _, e := range byName {
		merged = append(merged, *e)
	}
	sort.Slice(merged, func(i, j int) bool {
		return cmp.Compare(merged[i].name, merged[j].name) < 0
	})
	return merged
}

// reconcileTracks brings the audio file rows of one album in line with its
// folder. Sort positions follow the merged natural order. A row that is
// deleted frees its position; a failed insert keeps its position and stops
// any further deletion in this album.
func (p *pass) reconcileTracks(ctx context.Context, album models.Album) {
	s := p.syncer
	log := p.log.WithFields(logrus.Fields{"album_id": album.ID, "album_path": album.Path})

	entries, err := s.files.ListEntries(album.Path, fsprobe.AudioFiles(p.policy.ShowHidden, s.extensions))
	if err != nil {
		log.WithError(err).Error("Failed to list album folder, leaving tracks untouched")
		p.report.advise(fmt.Errorf("list %s: %w", album.Path, err))
		return
	}

	rows, err := s.catalog.ListAudioFilesByAlbum(ctx, album.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load audio files, leaving tracks untouched")
		p.report.advise(fmt.Errorf("load audio files of %s: %w", album.Path, err))
		return
	}

	insertFailed := false
	sortIndex := 1
	for _, e := range mergeListings(fsprobe.Names(entries), rows, s.collator) {
		switch e.origin {
		case OnDiskOnly:
			file := models.AudioFile{
				Title:     e.name,
				AlbumID:   album.ID,
				SortIndex: sortIndex,
			}
			path := file.Path(album.Path)
			file.DurationMs = p.probe(path)
			id, err := s.catalog.InsertAudioFile(ctx, file)
			if err != nil {
				insertFailed = true
				log.WithError(err).WithField("file", e.name).Error("Failed to insert audio file")
				p.report.insertFailed(path, err)
			} else {
				p.report.TracksCreated++
				log.WithFields(logrus.Fields{"audio_file_id": id, "file": e.name, "sort_index": sortIndex}).Debug("Audio file created")
			}
			sortIndex++
			continue

		case InCatalogOnly:
			if !insertFailed && p.policy.shouldDelete(e.name) {
				if err := s.catalog.DeleteAudioFile(ctx, e.row.ID); err != nil {
					log.WithError(err).WithField("audio_file_id", e.row.ID).Warn("Failed to delete audio file")
				} else {
					p.report.TracksDeleted++
					log.WithFields(logrus.Fields{"audio_file_id": e.row.ID, "file": e.name}).Debug("Audio file deleted")
					// the deleted row's position goes to the next entry
					continue
				}
			}
		}

		if e.row.SortIndex != sortIndex {
			if err := s.catalog.UpdateAudioFileSortIndex(ctx, e.row.ID, sortIndex); err != nil {
				log.WithError(err).WithField("audio_file_id", e.row.ID).Warn("Failed to update sort index")
			} else {
				p.report.TracksUpdated++
			}
		}
		sortIndex++
	}
}

// probe returns the duration of path, or 0 when it cannot be read
func (p *pass) probe(path string) int64 {
	ms, err := p.syncer.durations.ProbeDuration(path)
	if err != nil {
		p.log.WithError(err).WithField("file", path).Warn("Failed to probe duration, using 0")
		return 0
	}
	return ms
}
