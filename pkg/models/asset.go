package models

import "time"

type AssetType string

const (
	AssetWebsite       AssetType = "website"
	AssetAPI           AssetType = "api"
	AssetServer        AssetType = "server"
	AssetDatabase      AssetType = "database"
	AssetCloudService  AssetType = "cloudService"
	AssetNetworkDevice AssetType = "networkDevice"
	AssetContainer     AssetType = "container"
	AssetFunction      AssetType = "function"
)

const (
	RelParentDomain = "parent-domain"
	RelResolvesTo   = "resolves-to"
	RelRelatesTo    = "relates-to"
	RelHosts        = "hosts"
)

type Asset struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Type          AssetType              `json:"type" yaml:"type"`
	DiscoveredAt  time.Time              `json:"discoveredAt" yaml:"discovered_at"`
	LastUpdatedAt time.Time              `json:"lastUpdatedAt" yaml:"last_updated_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type AssetRelationship struct {
	SourceID     string                 `json:"sourceId" yaml:"source_id"`
	TargetID     string                 `json:"targetId" yaml:"target_id"`
	Type         string                 `json:"type" yaml:"type"`
	DiscoveredAt time.Time              `json:"discoveredAt" yaml:"discovered_at"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type DiscoveryResult struct {
	Assets        []Asset             `json:"assets" yaml:"assets"`
	Relationships []AssetRelationship `json:"relationships" yaml:"relationships"`
	ProviderName  string              `json:"providerName" yaml:"provider_name"`
	ScanTime      time.Time           `json:"scanTime" yaml:"scan_time"`
}

func (d *DiscoveryResult) FindAsset(name string) *Asset {
	for i := range d.Assets {
		if d.Assets[i].Name == name {
			return &d.Assets[i]
		}
	}
	return nil
}
