package reconcile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"audioanchor/internal/fsprobe"
	"audioanchor/pkg/models"
)

// albumTargets returns the album folders that should exist for dir. A
// missing root, or a root that is not a directory, has no targets. An error
// means the root exists but could not be listed.
func (p *pass) albumTargets(dir models.Directory) ([]string, error) {
	files := p.syncer.files

	root, ok, err := files.Stat(dir.Path)
	if err != nil {
		return nil, err
	}
	if !ok || !root.IsDir {
		return nil, nil
	}

	switch dir.Type {
	case models.SingleDir:
		if root.Readable && (p.policy.ShowHidden || !fsprobe.IsHidden(filepath.Base(dir.Path))) {
			return []string{dir.Path}, nil
		}
		return nil, nil
	default:
		entries, err := files.ListEntries(dir.Path, fsprobe.AlbumDirs(p.policy.ShowHidden))
		if err != nil {
			return nil, err
		}
		targets := make([]string, len(entries))
		for i, e := range entries {
			targets[i] = filepath.Join(dir.Path, e.Name)
		}
		return targets, nil
	}
}

// reconcileDirectory diffs the album folders of dir against its catalog
// albums, then reconciles the tracks of every album that survives. The only
// error returned is a cancelled ctx, checked between albums.
func (p *pass) reconcileDirectory(ctx context.Context, dir models.Directory) error {
	catalog := p.syncer.catalog
	log := p.log.WithFields(logrus.Fields{"directory_id": dir.ID, "path": dir.Path})

	targets, err := p.albumTargets(dir)
	if err != nil {
		// an unlistable root would look empty and wipe its albums
		log.WithError(err).Error("Failed to list directory, skipping it")
		p.report.advise(fmt.Errorf("list %s: %w", dir.Path, err))
		return nil
	}

	existing, err := catalog.ListAlbumsByDirectory(ctx, dir.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load albums, skipping directory")
		p.report.advise(fmt.Errorf("load albums of %s: %w", dir.Path, err))
		return nil
	}

	known := make(map[string]models.Album, len(existing))
	for _, a := range existing {
		known[a.Path] = a
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		// an album runs to completion once started
		albumCtx := context.WithoutCancel(ctx)

		album, ok := known[target]
		if ok {
			delete(known, target)
			p.refreshCover(albumCtx, &album)
		} else {
			album = models.Album{
				Title:       filepath.Base(target),
				Path:        target,
				DirectoryID: dir.ID,
				CoverPath:   p.syncer.files.FindCoverImage(target, p.policy.ShowHidden),
			}
			album.ID, err = catalog.InsertAlbum(albumCtx, album)
			if err != nil {
				log.WithError(err).WithField("album_path", target).Error("Failed to insert album")
				p.report.insertFailed(target, err)
				continue
			}
			p.report.AlbumsCreated++
			log.WithFields(logrus.Fields{"album_id": album.ID, "album_path": target}).Debug("Album created")
		}

		p.reconcileTracks(albumCtx, album)
	}

	for _, a := range existing {
		if _, stale := known[a.Path]; !stale {
			continue
		}
		if !p.policy.shouldDelete(filepath.Base(a.Path)) {
			log.WithField("album_path", a.Path).Debug("Keeping album whose folder is gone")
			continue
		}
		if err := catalog.DeleteAlbum(context.WithoutCancel(ctx), a.ID); err != nil {
			log.WithError(err).WithField("album_id", a.ID).Warn("Failed to delete album")
			continue
		}
		p.report.AlbumsDeleted++
		log.WithFields(logrus.Fields{"album_id": a.ID, "album_path": a.Path}).Debug("Album deleted")
	}
	return nil
}

// refreshCover recomputes the cover image and writes the row only when it
// changed. The title is never touched.
func (p *pass) refreshCover(ctx context.Context, album *models.Album) {
	cover := p.syncer.files.FindCoverImage(album.Path, p.policy.ShowHidden)
	if cover == album.CoverPath {
		return
	}

	album.CoverPath = cover
	if err := p.syncer.catalog.UpdateAlbum(ctx, *album); err != nil {
		p.log.WithError(err).WithField("album_id", album.ID).Warn("Failed to update album cover")
		return
	}
	p.report.AlbumsUpdated++
	p.log.WithFields(logrus.Fields{"album_id": album.ID, "cover": cover}).Debug("Album cover updated")
}
