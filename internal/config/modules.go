package config

import (
	_ "github.com/patch-hub/patch-hub/internal/layout/genshin"
)
