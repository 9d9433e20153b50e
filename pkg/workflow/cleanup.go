package workflow

import (
	"os"
	"path/filepath"

	"github.com/tombee/forge/pkg/recipe"
)

// runCleanup processes a cleanup action list in order. Paths are resolved
// against the context before use. Individual failures are logged at
// warning level and never change the run outcome.
func (r *Runner) runCleanup(actions []recipe.CleanupAction, wfCtx *Context) {
	for _, action := range actions {
		switch action.Action {
		case "delete":
			path := wfCtx.ResolveString(action.Path)
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				wfCtx.Logger.Warn("cleanup delete failed", "path", path, "error", err.Error())
				continue
			}
			wfCtx.Logger.Info("cleaned up", "path", path)

		case "move":
			src := wfCtx.ResolveString(action.Source)
			dst := wfCtx.ResolveString(action.Destination)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				wfCtx.Logger.Warn("cleanup move failed", "destination", dst, "error", err.Error())
				continue
			}
			if err := os.Rename(src, dst); err != nil {
				wfCtx.Logger.Warn("cleanup move failed", "source", src, "destination", dst, "error", err.Error())
				continue
			}
			wfCtx.Logger.Info("moved", "source", src, "destination", dst)

		case "preserve":
			path := wfCtx.ResolveString(action.Path)
			wfCtx.Logger.Info("preserved", "path", path, "reason", action.Reason)

		default:
			wfCtx.Logger.Warn("unknown cleanup action", "action", action.Action)
		}
	}
}
