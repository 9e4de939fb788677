package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ExportEnvFile writes a dotenv file for env. Secure parameters become
// *_SSM_PARAM pointers so no secret touches disk; plain parameters are
// inlined. Parameters that are not set are left out.
func ExportEnvFile(ctx context.Context, path, env string, params *ParamStore, steps []Step) error {
	vars, err := collectEnv(ctx, env, params, steps)
	if err != nil {
		return err
	}

	content, err := godotenv.Marshal(vars)
	if err != nil {
		return fmt.Errorf("encoding dotenv: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	header := fmt.Sprintf("# copyforge %s parameters, generated by cmd/ops/bootstrap\n", env)
	return os.WriteFile(path, []byte(header+content+"\n"), 0o600)
}

func collectEnv(ctx context.Context, env string, params *ParamStore, steps []Step) (map[string]string, error) {
	vars := map[string]string{"APP_ENV": env}

	for _, step := range steps {
		p := params.Path(step.Key)
		ok, err := params.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if step.Secure {
			vars[step.EnvVar+"_SSM_PARAM"] = p
			continue
		}
		v, err := params.Value(ctx, p)
		if err != nil {
			return nil, err
		}
		vars[step.EnvVar] = v
	}
	return vars, nil
}
