package reduce

import (
	"context"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// DefaultCrashCode is the exit status of an assertion failure (SIGABRT
// through a shell).
const DefaultCrashCode = 134

// CReduce drives creduce, a token-level rewriting reducer. Only the crash
// exit code is interesting, so inputs that merely fail to parse are not
// kept.
type CReduce struct {
	CrashCode int
}

func (CReduce) Name() string { return "creduce" }
func (CReduce) Tag() string  { return "creduce" + TagSuffix }

func (CReduce) Applies(tc *models.TestCase, d *directive.Directive) bool {
	return tc.Language != models.LanguageUnknown
}

func (s CReduce) crashCode() int {
	if s.CrashCode == 0 {
		return DefaultCrashCode
	}
	return s.CrashCode
}

func (s CReduce) Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error) {
	if !s.Applies(tc, d) {
		env.decline(s, tc, "unsupported language")
		return nil, nil
	}
	dir, cleanup, err := env.scratch(s.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// creduce rewrites its input in place.
	name := "candidate" + tc.Ext()
	candidate := filepath.Join(dir, name)
	if err := copyFile(tc.Path, candidate); err != nil {
		return nil, err
	}

	script, err := env.Toolchain.WritePredicate(dir, d, toolchain.Literal(name), toolchain.Polarity{CrashCode: s.crashCode()})
	if err != nil {
		return nil, err
	}

	args := []string{script, name}
	if tc.Language != models.LanguageC {
		args = append(args, "--not-c")
	}
	out, err := env.Toolchain.RunTool(ctx, "creduce", args, toolchain.Options{Dir: dir, Timeout: env.Timeouts.Tool})
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.toolFailed(s, tc, "creduce", out)
		return nil, nil
	}

	if tc.Language == models.LanguageIR {
		reprinted := filepath.Join(dir, "temp.ll")
		out, err := env.reprint(ctx, dir, candidate, reprinted)
		if err != nil {
			return nil, err
		}
		if out.Succeeded() {
			if err := copyFile(reprinted, candidate); err != nil {
				return nil, err
			}
		} else {
			env.logger().Debug("Reprint failed, keeping raw creduce output", zap.String("test", tc.Path))
		}
	}
	return env.finish(s, tc, candidate)
}
