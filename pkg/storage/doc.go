// Package storage persists built archives for imgharvest.
//
// A Manager owns one output directory. For each job it writes
// <prefix>_<jobID>.zip and, when enabled, <prefix>_<jobID>.manifest.json.
// Both files are written to a temporary name first and renamed into place,
// so a reader never sees a partial archive. When a job archived nothing,
// SaveManifest writes the manifest alone.
//
// Usage:
//
//	manager, err := storage.NewManager(cfg.Output, log)
//	if err != nil {
//	    return err
//	}
//
//	saved, err := manager.SaveArchive(job.ID, archive)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(saved.Archive)
package storage
