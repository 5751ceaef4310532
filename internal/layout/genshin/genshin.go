// Package genshin 注册原神补丁源站的目录布局。
package genshin

import (
	"github.com/patch-hub/patch-hub/internal/layout"
	"github.com/patch-hub/patch-hub/internal/manifest"
)

// Key 为布局注册键。
const Key = "genshin"

// Profile 返回原神的目录布局，表项顺序与源站发布结构一致。
func Profile() layout.Profile {
	return layout.Profile{
		Key:         Key,
		Description: "Genshin Impact hotfix layout (client_game_res / client_design_data)",
		Templates: map[manifest.ChannelKind]manifest.PathTemplate{
			manifest.KindRes: {
				Mode: "client_game_res",
				Targets: []string{
					"client/Android",
					"client/StandaloneWindows64",
					"client/iOS",
				},
				Manifests: []string{
					"res_versions_external",
					"res_versions_medium",
					"res_versions_streaming",
					"release_res_versions_external",
					"release_res_versions_medium",
					"release_res_versions_streaming",
					"AudioAssets/audio_versions",
					"base_revision",
					"script_version",
					"patch_node_versions",
					"vulkan_gpu_list_config.txt",
				},
			},
			manifest.KindClientSilence: {
				Mode:      "client_design_data",
				Targets:   []string{"client_silence/General/AssetBundles"},
				Manifests: []string{"data_versions"},
			},
			manifest.KindClient: {
				Mode:      "client_design_data",
				Targets:   []string{"client/General/AssetBundles"},
				Manifests: []string{"data_versions"},
			},
		},
		Subfolders: []manifest.SubfolderRule{
			{Folder: "AudioAssets", Extensions: []string{"pck"}},
			{Folder: "VideoAssets", Extensions: []string{"cuepoint", "usm"}},
			{Folder: "AssetBundles", Extensions: []string{"blk"}},
		},
		NonListing: []string{
			"script_version",
			"base_revision",
			"patch_node_versions",
			"vulkan_gpu_list_config.txt",
		},
		SkipNames: []string{"svc_catalog"},
	}
}

func init() {
	layout.MustRegister(Profile())
}
