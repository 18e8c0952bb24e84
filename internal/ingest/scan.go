package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/barasher/go-exiftool"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/actions"
	"github.com/reflib/libraryd/internal/config"
	"github.com/reflib/libraryd/internal/jobs"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/storage"
)

// NewScanHandler builds the jobs.Handler for models.KindScan. It walks
// job.Config's root (copying from the MTP device into a scratch
// directory first if cfg.MTP is set), and for each supported file runs
// the derivation pipeline (for photos, the one documented on derivePhoto).
func NewScanHandler(store *storage.Store, cfg *config.Config, dispatch *actions.Store, log *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, run *jobs.Runner, job *models.MLJob) error {
		var scfg models.ScanConfig
		if err := job.Config(&scfg); err != nil {
			return fmt.Errorf("ingest: decode config: %w", err)
		}

		root := scfg.Root
		if scfg.MTP {
			scratchRoot, err := copyFromMTP(ctx, cfg, scfg.Root, log)
			if err != nil {
				return fmt.Errorf("ingest: mtp copy: %w", err)
			}
			root = scratchRoot
		}

		et, err := newExiftool()
		if err != nil {
			return err
		}
		defer et.Close()
		ffprobePath, err := locateFFprobe()
		if err != nil {
			return err
		}

		ignored := make(map[string]bool)
		for _, d := range cfg.IgnoredDirs() {
			ignored[d] = true
		}

		folderIDs := make(map[string]int64)
		present := make(map[string]bool)
		var photosIndexed, videosIndexed int64
		var fileCount int64

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warnw("ingest: walk error", "path", path, "error", err)
				return nil
			}
			if run.ShouldCancel() {
				return filepath.SkipAll
			}
			if d.IsDir() {
				if path != root && isIgnoredDir(d.Name(), ignored) {
					return filepath.SkipDir
				}
				return nil
			}
			kind, ok := classify(path)
			if !ok {
				return nil // unsupported extension, skipped silently
			}
			present[path] = true

			info, err := d.Info()
			if err != nil {
				log.Warnw("ingest: stat failed", "path", path, "error", err)
				return nil
			}

			if !scfg.Incremental {
				// full scan always re-derives
			} else if unchanged, err := isUnchanged(ctx, store, job.ProjectID, path, info); err == nil && unchanged {
				return nil
			}

			folderID, err := resolveFolderChain(ctx, store, folderIDs, filepath.Dir(path))
			if err != nil {
				log.Warnw("ingest: resolve folder", "path", path, "error", err)
				return nil
			}

			switch kind {
			case "photo":
				if err := derivePhoto(ctx, store, et, job.ProjectID, folderID, path, info); err != nil {
					log.Warnw("ingest: photo derivation failed", "path", path, "error", err)
					return nil
				}
				photosIndexed++
			case "video":
				if err := deriveVideo(ctx, store, ffprobePath, job.ProjectID, folderID, path, info); err != nil {
					log.Warnw("ingest: video derivation failed", "path", path, "error", err)
					return nil
				}
				videosIndexed++
			}

			fileCount++
			if fileCount%50 == 0 {
				if err := run.Progress(ctx, fileCount, 0, fileCount); err != nil {
					return err
				}
			}
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("ingest: walk %s: %w", root, walkErr)
		}

		if err := store.MarkPhotosMissing(ctx, job.ProjectID, present); err != nil {
			return fmt.Errorf("ingest: mark missing: %w", err)
		}

		dispatch.Dispatch(actions.ScanCompleted{
			Meta:          dispatch.MakeMeta("scan"),
			JobID:         job.ID,
			PhotosIndexed: photosIndexed,
			VideosIndexed: videosIndexed,
		})
		return nil
	}
}

// isUnchanged reports whether path's (size, mtime) match the stored
// row, the incremental-scan skip condition from spec.md §4.2. A row
// whose (size, mtime) match but that is still within its retry budget
// (metadata_fail_count < 3) is treated as changed so derivation is
// attempted again; one that has exhausted its three attempts is
// suppressed until the file's mtime actually moves.
func isUnchanged(ctx context.Context, store *storage.Store, projectID int64, path string, info fs.FileInfo) (bool, error) {
	photo, err := store.GetPhotoByPath(ctx, projectID, path)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	sizeKB := info.Size() / 1024
	sameStat := photo.SizeKB == sizeKB && photo.Modified.Equal(info.ModTime().Truncate(time.Second))
	if !sameStat {
		return false, nil
	}
	if photo.MetadataFailCount > 0 && photo.ShouldRetryMetadata() {
		return false, nil
	}
	return true, nil
}

// resolveFolderChain walks dirPath component by component from the
// filesystem root, creating/looking up each photo_folders row and
// caching ids in cache so a deep tree is only resolved once per scan.
func resolveFolderChain(ctx context.Context, store *storage.Store, cache map[string]int64, dirPath string) (int64, error) {
	if id, ok := cache[dirPath]; ok {
		return id, nil
	}
	parent := filepath.Dir(dirPath)
	var parentID *int64
	if parent != dirPath {
		pid, err := resolveFolderChain(ctx, store, cache, parent)
		if err == nil {
			parentID = &pid
		}
	}
	var id int64
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		id, txErr = store.UpsertFolder(ctx, tx, parentID, dirPath, filepath.Base(dirPath))
		return txErr
	})
	if err != nil {
		return 0, err
	}
	cache[dirPath] = id
	return id, nil
}

// derivePhoto runs the six-step photo derivation pipeline: content
// hash (orientation-normalized), perceptual hash, asset/instance
// upsert, EXIF metadata, and pipeline-eligibility flags.
//
// A minimal photo_metadata row is seeded by path before the content
// hash is attempted, so a failure at any later step (including one
// that rolls back its own transaction) always has a surviving photoID
// to record metadata_fail_count/last_error against. Without that row,
// a file failing before UpsertPhoto ever committed would be retried
// forever instead of being suppressed after three failures.
func derivePhoto(ctx context.Context, store *storage.Store, et *exiftool.Exiftool, projectID, folderID int64, path string, info fs.FileInfo) error {
	fallback := info.ModTime()
	var photoID int64
	if err := store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		photoID, txErr = store.UpsertPhoto(ctx, tx, &models.PhotoMetadata{
			Path:         path,
			FolderID:     folderID,
			ProjectID:    projectID,
			SizeKB:       info.Size() / 1024,
			Modified:     info.ModTime().Truncate(time.Second),
			CreatedTS:    fallback,
			CreatedYear:  fallback.Year(),
			CreatedMonth: int(fallback.Month()),
			CreatedDay:   fallback.Day(),
		})
		return txErr
	}); err != nil {
		return fmt.Errorf("seed photo row: %w", err)
	}

	hash, err := contentHashForPhoto(path)
	if err != nil {
		_ = store.RecordMetadataFailure(ctx, photoID, err.Error())
		return fmt.Errorf("content hash: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	img, _, decodeErr := image.Decode(f)
	f.Close()
	var pHash uint64
	if decodeErr == nil {
		pHash = perceptualHash(img)
	}

	attrs, attrErr := extractPhotoAttrs(et, path)
	dateTaken := (*time.Time)(nil)
	width, height := 0, 0
	if attrErr == nil {
		dateTaken = attrs.DateTaken
		width, height = attrs.Width, attrs.Height
	}
	if dateTaken == nil {
		mt := info.ModTime()
		dateTaken = &mt
	}
	created := *dateTaken

	p := &models.PhotoMetadata{
		Path:         path,
		FolderID:     folderID,
		ProjectID:    projectID,
		SizeKB:       info.Size() / 1024,
		Modified:     info.ModTime().Truncate(time.Second),
		DateTaken:    dateTaken,
		CreatedTS:    created,
		CreatedYear:  created.Year(),
		CreatedMonth: int(created.Month()),
		CreatedDay:   created.Day(),
		Width:        width,
		Height:       height,
	}

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		photoID, txErr = store.UpsertPhoto(ctx, tx, p)
		if txErr != nil {
			return txErr
		}
		assetID, txErr := store.UpsertAsset(ctx, tx, projectID, hash, pHash, photoID)
		if txErr != nil {
			return txErr
		}
		return store.LinkInstance(ctx, tx, projectID, assetID, photoID)
	})
	if err != nil {
		// photoID survived the rollback: it was committed by the seed
		// transaction above, not this one.
		if recErr := store.RecordMetadataFailure(ctx, photoID, err.Error()); recErr != nil {
			return fmt.Errorf("%w (and recording failure: %v)", err, recErr)
		}
		return err
	}
	if attrErr != nil {
		_ = store.RecordMetadataFailure(ctx, photoID, attrErr.Error())
	} else if err := store.ClearMetadataFailure(ctx, photoID); err != nil {
		return err
	}
	if err := store.SetFacesStatus(ctx, photoID, "pending"); err != nil {
		return err
	}
	return store.SetEmbedStatus(ctx, photoID, "pending")
}

// deriveVideo mirrors derivePhoto for video files: content hash over
// raw bytes (no orientation concept), no perceptual hash (stacking is
// photo-only per spec.md §4.3), ffprobe-derived metadata.
func deriveVideo(ctx context.Context, store *storage.Store, ffprobePath string, projectID, folderID int64, path string, info fs.FileInfo) error {
	hash, err := contentHashForVideo(path)
	if err != nil {
		return fmt.Errorf("content hash: %w", err)
	}
	attrs, err := extractVideoAttrs(ffprobePath, path)
	if err != nil {
		attrs = &videoAttrs{}
	}

	mt := info.ModTime()
	v := &models.VideoMetadata{
		Path:         path,
		FolderID:     folderID,
		ProjectID:    projectID,
		SizeKB:       info.Size() / 1024,
		Modified:     mt.Truncate(time.Second),
		CreatedTS:    mt,
		CreatedYear:  mt.Year(),
		CreatedMonth: int(mt.Month()),
		CreatedDay:   mt.Day(),
		DurationSec:  attrs.DurationSec,
		Codec:        attrs.Codec,
		Width:        attrs.Width,
		Height:       attrs.Height,
		FPS:          attrs.FPS,
		BitrateKbps:  attrs.BitrateKbps,
	}

	return store.WithTx(ctx, func(tx *sql.Tx) error {
		videoID, err := store.UpsertVideo(ctx, tx, v)
		if err != nil {
			return err
		}
		assetID, err := store.UpsertAsset(ctx, tx, projectID, hash, 0, videoID)
		if err != nil {
			return err
		}
		return store.LinkInstance(ctx, tx, projectID, assetID, videoID)
	})
}
