package provider

import "strings"

// Capability is one optional method of the provider contract.
type Capability uint16

const (
	CapSearch Capability = 1 << iota
	CapMediaSource
	CapMusicInfo
	CapLyric
	CapAlbumInfo
	CapSheetInfo
	CapArtistWorks
	CapImportMusicItem
	CapImportSheet
	CapTopLists
	CapTopListDetail
	CapRecommendTags
	CapSheetsByTag
)

// capabilityNames maps each capability to the method name a script module exports.
var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapSearch, "search"},
	{CapMediaSource, "getMediaSource"},
	{CapMusicInfo, "getMusicInfo"},
	{CapLyric, "getLyric"},
	{CapAlbumInfo, "getAlbumInfo"},
	{CapSheetInfo, "getMusicSheetInfo"},
	{CapArtistWorks, "getArtistWorks"},
	{CapImportMusicItem, "importMusicItem"},
	{CapImportSheet, "importMusicSheet"},
	{CapTopLists, "getTopLists"},
	{CapTopListDetail, "getTopListDetail"},
	{CapRecommendTags, "getRecommendSheetTags"},
	{CapSheetsByTag, "getRecommendSheetsByTag"},
}

// Capabilities is the set of methods a unit implements, computed once at load.
type Capabilities uint16

// Has reports whether c is present.
func (cs Capabilities) Has(c Capability) bool {
	return cs&Capabilities(c) != 0
}

// With returns the set with c added.
func (cs Capabilities) With(c Capability) Capabilities {
	return cs | Capabilities(c)
}

// Names returns the exported method names of the present capabilities.
func (cs Capabilities) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if cs.Has(cn.cap) {
			names = append(names, cn.name)
		}
	}
	return names
}

// String implements fmt.Stringer.
func (cs Capabilities) String() string {
	return strings.Join(cs.Names(), ",")
}

// MethodName returns the exported method name for c.
func (c Capability) MethodName() string {
	for _, cn := range capabilityNames {
		if cn.cap == c {
			return cn.name
		}
	}
	return ""
}

// AllCapabilities lists every capability in declaration order.
func AllCapabilities() []Capability {
	out := make([]Capability, len(capabilityNames))
	for i, cn := range capabilityNames {
		out[i] = cn.cap
	}
	return out
}
