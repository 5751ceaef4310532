// Package manifest 解析清单文件中的资源行，并根据版本目录组合远端路径。
package manifest

// ChannelKind 标识一次构建中的发布通道。
type ChannelKind string

const (
	KindRes           ChannelKind = "res"
	KindClient        ChannelKind = "client"
	KindClientSilence ChannelKind = "clientSilence"
)

// Kinds 按固定顺序返回所有已知通道，遍历构建阶段时使用。
func Kinds() []ChannelKind {
	return []ChannelKind{KindRes, KindClient, KindClientSilence}
}

// Valid 判断通道是否为已知类型。
func (k ChannelKind) Valid() bool {
	switch k {
	case KindRes, KindClient, KindClientSilence:
		return true
	}
	return false
}

// PathTemplate 描述某个通道的目录模式、客户端子路径以及需要抓取的清单文件。
type PathTemplate struct {
	Mode      string
	Targets   []string
	Manifests []string
}

// SubfolderRule 将扩展名映射到资源所在的子目录。
type SubfolderRule struct {
	Folder     string
	Extensions []string
}

// AssetDescriptor 是清单中一行资源记录解析后的结果。
type AssetDescriptor struct {
	RemotePath     string
	ExpectedDigest string
	Size           int64
	IsPatch        bool
	// LocalName 为清单声明的本地文件名，仅作记录。
	LocalName string
}
