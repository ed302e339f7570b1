package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/node"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the chain status",
	Long: `Open the node's stores and print the chain tip.

The stores are opened directly, so the node must not be running when a
persistent backend holds an exclusive lock.

Example:
  ledgerberry status --config node0/config.toml
  ledgerberry status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// StatusResponse represents the chain status.
type StatusResponse struct {
	ChainInfo struct {
		ChainID     string `json:"chain_id"`
		GenesisHash string `json:"genesis_hash"`
		Version     string `json:"version"`
	} `json:"chain_info"`
	TipInfo struct {
		Height          int64     `json:"height"`
		Hash            string    `json:"hash"`
		Time            time.Time `json:"time"`
		StateRoot       string    `json:"state_root"`
		ProtocolVersion int32     `json:"protocol_version"`
	} `json:"tip_info"`
	ValidatorInfo struct {
		Address     string `json:"address"`
		VotingPower int64  `json:"voting_power"`
		SetSize     int    `json:"set_size"`
		TotalPower  int64  `json:"total_power"`
	} `json:"validator_info"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	n, err := node.NewNode(cfg, node.WithLogger(logging.NewNopLogger()))
	if err != nil {
		return fmt.Errorf("opening node: %w", err)
	}
	defer n.Close()

	c := n.Chain()
	tip := c.Tip()

	var status StatusResponse
	status.ChainInfo.ChainID = cfg.Chain.ChainID
	status.ChainInfo.GenesisHash = c.Genesis().Hash().String()
	status.ChainInfo.Version = Version
	status.TipInfo.Height = tip.Height()
	status.TipInfo.Hash = c.TipHash().String()
	status.TipInfo.Time = tip.Time().UTC()
	status.TipInfo.StateRoot = tip.Header.StateRootHash.String()
	status.TipInfo.ProtocolVersion = tip.Header.ProtocolVersion

	vals, err := c.ValidatorSetAt(tip.Height() + 1)
	if err != nil {
		return fmt.Errorf("loading validator set: %w", err)
	}
	status.ValidatorInfo.Address = n.Address().String()
	status.ValidatorInfo.SetSize = vals.Len()
	status.ValidatorInfo.TotalPower = vals.TotalPower()
	if v := vals.GetByAddress(n.Address()); v != nil {
		status.ValidatorInfo.VotingPower = v.Power
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(out, "Chain Status")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Chain ID:        %s\n", status.ChainInfo.ChainID)
	fmt.Fprintf(out, "Genesis:         %s\n", status.ChainInfo.GenesisHash)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Tip")
	fmt.Fprintln(out, "---")
	fmt.Fprintf(out, "Height:          %d\n", status.TipInfo.Height)
	fmt.Fprintf(out, "Hash:            %s\n", status.TipInfo.Hash)
	fmt.Fprintf(out, "Time:            %s\n", status.TipInfo.Time.Format(time.RFC3339))
	fmt.Fprintf(out, "State root:      %s\n", status.TipInfo.StateRoot)
	fmt.Fprintf(out, "Protocol:        %d\n", status.TipInfo.ProtocolVersion)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Validators")
	fmt.Fprintln(out, "----------")
	fmt.Fprintf(out, "Set size:        %d\n", status.ValidatorInfo.SetSize)
	fmt.Fprintf(out, "Total power:     %d\n", status.ValidatorInfo.TotalPower)
	fmt.Fprintf(out, "Node address:    %s\n", status.ValidatorInfo.Address)
	if status.ValidatorInfo.VotingPower > 0 {
		fmt.Fprintf(out, "Voting power:    %d\n", status.ValidatorInfo.VotingPower)
	}

	return nil
}
