package models

// Block is a single indexed block. Only the header-level fields the revenue
// queries need are kept; the index is not a full-node mirror.
type Block struct {
	Height    int64  `gorm:"column:height;primary_key" json:"height"`
	Timestamp int64  `gorm:"column:timestamp" json:"timestamp"`
	Hash      string `gorm:"column:hash" json:"hash"`
	SyncedAt  int64  `gorm:"column:synced_at" json:"syncedAt"`
}

// TableName returns the table name of the Block model
func (Block) TableName() string {
	return "blocks"
}

// Transaction is a single payment to a watched address. The triple
// (tx_hash, vout_index, address) is unique; re-inserting it is a no-op.
type Transaction struct {
	ID          uint64  `gorm:"column:id;primary_key" json:"-"`
	BlockHeight int64   `gorm:"column:block_height" json:"blockHeight"`
	TxHash      string  `gorm:"column:tx_hash" json:"txHash"`
	VoutIndex   int     `gorm:"column:vout_index" json:"voutIndex"`
	Address     string  `gorm:"column:address" json:"address"`
	FromAddress *string `gorm:"column:from_address" json:"fromAddress"`
	Value       float64 `gorm:"column:value" json:"value"`
	Timestamp   int64   `gorm:"column:timestamp" json:"timestamp"`
}

// TableName returns the table name of the Transaction model
func (Transaction) TableName() string {
	return "transactions"
}

// NetworkNodeStats is a twice-daily snapshot of fleet-wide node counts.
type NetworkNodeStats struct {
	ID             uint64  `gorm:"column:id;primary_key" json:"-"`
	Timestamp      int64   `gorm:"column:timestamp" json:"timestamp"`
	CumulusCount   int64   `gorm:"column:cumulus_count" json:"cumulusCount"`
	NimbusCount    int64   `gorm:"column:nimbus_count" json:"nimbusCount"`
	StratusCount   int64   `gorm:"column:stratus_count" json:"stratusCount"`
	FractusCount   int64   `gorm:"column:fractus_count" json:"fractusCount"`
	TotalCount     int64   `gorm:"column:total_count" json:"totalCount"`
	DataSource     string  `gorm:"column:data_source" json:"dataSource"`
	APISuccessRate float64 `gorm:"column:api_success_rate" json:"apiSuccessRate"`
	Note           string  `gorm:"column:note" json:"note,omitempty"`
}

// TableName returns the table name of the NetworkNodeStats model
func (NetworkNodeStats) TableName() string {
	return "network_node_stats"
}

// NetworkUtilizationStats is a twice-daily snapshot of fleet-wide resource
// totals, their utilization, and the running apps count.
type NetworkUtilizationStats struct {
	ID              uint64  `gorm:"column:id;primary_key" json:"-"`
	Timestamp       int64   `gorm:"column:timestamp" json:"timestamp"`
	TotalCores      int64   `gorm:"column:total_cores" json:"totalCores"`
	TotalRAMGB      float64 `gorm:"column:total_ram_gb" json:"totalRamGb"`
	TotalSSDGB      float64 `gorm:"column:total_ssd_gb" json:"totalSsdGb"`
	UtilizedCores   int64   `gorm:"column:utilized_cores" json:"utilizedCores"`
	UtilizedRAMGB   float64 `gorm:"column:utilized_ram_gb" json:"utilizedRamGb"`
	UtilizedSSDGB   float64 `gorm:"column:utilized_ssd_gb" json:"utilizedSsdGb"`
	RunningApps     int64   `gorm:"column:running_apps" json:"runningApps"`
	NodeCount       int64   `gorm:"column:node_count" json:"nodeCount"`
	DataSource      string  `gorm:"column:data_source" json:"dataSource"`
	APISuccessRate  float64 `gorm:"column:api_success_rate" json:"apiSuccessRate"`
	Note            string  `gorm:"column:note" json:"note,omitempty"`
}

// TableName returns the table name of the NetworkUtilizationStats model
func (NetworkUtilizationStats) TableName() string {
	return "network_utilization_stats"
}
