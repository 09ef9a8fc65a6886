// Package network enumerates the supported blockchain networks and the
// Circle CCTP V2 constants (domain identifiers, contract addresses,
// attestation endpoints) needed to move USDC between them.
package network

// Network identifies a blockchain network using Circle's naming scheme.
type Network string

// Supported networks.
const (
	Ethereum        Network = "ETH"
	EthereumSepolia Network = "ETH-SEPOLIA"
	Base            Network = "BASE"
	BaseSepolia     Network = "BASE-SEPOLIA"
	Arbitrum        Network = "ARB"
	ArbitrumSepolia Network = "ARB-SEPOLIA"
	Avalanche       Network = "AVAX"
	AvalancheFuji   Network = "AVAX-FUJI"
	Optimism        Network = "OP"
	OptimismSepolia Network = "OP-SEPOLIA"
	Polygon         Network = "MATIC"
	PolygonAmoy     Network = "MATIC-AMOY"
	Solana          Network = "SOL"
	SolanaDevnet    Network = "SOL-DEVNET"
)

// IsTestnet reports whether n is a test network.
func (n Network) IsTestnet() bool {
	switch n {
	case EthereumSepolia, BaseSepolia, ArbitrumSepolia, AvalancheFuji,
		OptimismSepolia, PolygonAmoy, SolanaDevnet:
		return true
	}
	return false
}

// IsEVM reports whether n is an EVM-compatible network.
func (n Network) IsEVM() bool {
	switch n {
	case Solana, SolanaDevnet:
		return false
	}
	return n.Valid()
}

// Valid reports whether n is a known network.
func (n Network) Valid() bool {
	_, ok := cctpDomains[n]
	return ok
}

// cctpDomains maps networks to CCTP domain identifiers. Mainnet and its
// testnet share a domain.
var cctpDomains = map[Network]uint32{
	Ethereum: 0, EthereumSepolia: 0,
	Avalanche: 1, AvalancheFuji: 1,
	Optimism: 2, OptimismSepolia: 2,
	Arbitrum: 3, ArbitrumSepolia: 3,
	Solana: 5, SolanaDevnet: 5,
	Base: 6, BaseSepolia: 6,
	Polygon: 7, PolygonAmoy: 7,
}

// CCTPDomain returns the CCTP domain identifier for n.
func (n Network) CCTPDomain() (uint32, bool) {
	d, ok := cctpDomains[n]
	return d, ok
}

// CCTP V2 contract addresses. The same addresses are deployed on every
// supported EVM chain; only mainnet and testnet differ.
const (
	TokenMessengerMainnet     = "0x28b5a0e9C621a5BadaA536219b3a228C8168cf5d"
	TokenMessengerTestnet     = "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"
	MessageTransmitterMainnet = "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64"
	MessageTransmitterTestnet = "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"
)

// TokenMessenger returns the CCTP V2 TokenMessenger contract address for n.
func (n Network) TokenMessenger() string {
	if n.IsTestnet() {
		return TokenMessengerTestnet
	}
	return TokenMessengerMainnet
}

// MessageTransmitter returns the CCTP V2 MessageTransmitter contract
// address for n.
func (n Network) MessageTransmitter() string {
	if n.IsTestnet() {
		return MessageTransmitterTestnet
	}
	return MessageTransmitterMainnet
}

// usdcContracts maps networks to canonical USDC token contracts.
var usdcContracts = map[Network]string{
	Ethereum:        "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	EthereumSepolia: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	Base:            "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	BaseSepolia:     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	Arbitrum:        "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	ArbitrumSepolia: "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
	Avalanche:       "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	AvalancheFuji:   "0x5425890298aed601595a70AB815c96711a31Bc65",
	Optimism:        "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	Polygon:         "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	Solana:          "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	SolanaDevnet:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
}

// USDCContract returns the USDC token contract address on n.
func (n Network) USDCContract() (string, bool) {
	c, ok := usdcContracts[n]
	return c, ok
}

// Iris attestation service endpoints.
const (
	IrisMainnetURL = "https://iris-api.circle.com"
	IrisSandboxURL = "https://iris-api-sandbox.circle.com"
)

// IrisBaseURL returns the attestation service base URL for n.
func (n Network) IrisBaseURL() string {
	if n.IsTestnet() {
		return IrisSandboxURL
	}
	return IrisMainnetURL
}
