package web3

import (
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Canonical Multicall3 deployment, at the same address on every major chain.
var Multicall3Address = MustParseAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

/*
Describes an EVM network: where to send requests and how. Immutable by
convention: use ".Set" or the shortcuts to derive modified copies. Comparable,
which lets dispatchers detect reconfiguration.
*/
type Network struct {
	ChainID     uint64        `yaml:"chainId"`
	Name        string        `yaml:"name"`
	HttpURL     string        `yaml:"httpUrl"`
	WsURL       string        `yaml:"wsUrl"`
	Multicall3  Address       `yaml:"multicall3"`
	BlockTime   time.Duration `yaml:"blockTime"`
	AlchemySlug string        `yaml:"alchemySlug"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
}

// Built-in networks with public endpoints. Use ".Alchemy" or ".FromEnv" for
// production traffic.
var (
	Mainnet = Network{
		ChainID:     1,
		Name:        "ethereum",
		HttpURL:     "https://ethereum-rpc.publicnode.com",
		WsURL:       "wss://ethereum-rpc.publicnode.com",
		Multicall3:  Multicall3Address,
		BlockTime:   12 * time.Second,
		AlchemySlug: "eth-mainnet",
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
	}

	Sepolia = Mainnet.Set(func(net *Network) {
		net.ChainID = 11155111
		net.Name = "sepolia"
		net.HttpURL = "https://ethereum-sepolia-rpc.publicnode.com"
		net.WsURL = "wss://ethereum-sepolia-rpc.publicnode.com"
		net.AlchemySlug = "eth-sepolia"
	})

	Optimism = Mainnet.Set(func(net *Network) {
		net.ChainID = 10
		net.Name = "optimism"
		net.HttpURL = "https://mainnet.optimism.io"
		net.WsURL = ""
		net.BlockTime = 2 * time.Second
		net.AlchemySlug = "opt-mainnet"
	})

	Arbitrum = Mainnet.Set(func(net *Network) {
		net.ChainID = 42161
		net.Name = "arbitrum"
		net.HttpURL = "https://arb1.arbitrum.io/rpc"
		net.WsURL = ""
		net.BlockTime = 250 * time.Millisecond
		net.AlchemySlug = "arb-mainnet"
	})

	Base = Mainnet.Set(func(net *Network) {
		net.ChainID = 8453
		net.Name = "base"
		net.HttpURL = "https://mainnet.base.org"
		net.WsURL = ""
		net.BlockTime = 2 * time.Second
		net.AlchemySlug = "base-mainnet"
	})

	Polygon = Mainnet.Set(func(net *Network) {
		net.ChainID = 137
		net.Name = "polygon"
		net.HttpURL = "https://polygon-rpc.com"
		net.WsURL = ""
		net.BlockTime = 2 * time.Second
		net.AlchemySlug = "polygon-mainnet"
	})

	BSC = Mainnet.Set(func(net *Network) {
		net.ChainID = 56
		net.Name = "bsc"
		net.HttpURL = "https://bsc-dataseed.binance.org"
		net.WsURL = ""
		net.BlockTime = 3 * time.Second
		net.AlchemySlug = "bnb-mainnet"
	})

	Avalanche = Mainnet.Set(func(net *Network) {
		net.ChainID = 43114
		net.Name = "avalanche"
		net.HttpURL = "https://api.avax.network/ext/bc/C/rpc"
		net.WsURL = ""
		net.BlockTime = 2 * time.Second
		net.AlchemySlug = "avax-mainnet"
	})
)

// Returns a copy modified by the function.
func (self Network) Set(fun func(*Network)) Network {
	fun(&self)
	return self
}

// Implements "fmt.Stringer".
func (self Network) String() string {
	if self.Name != "" {
		return self.Name
	}
	return "chain-" + HexUint64(self.ChainID).String()
}

/*
Returns a copy whose endpoints point at Alchemy, derived from ".AlchemySlug".
Networks without a slug and empty keys are returned unchanged.
*/
func (self Network) Alchemy(key string) Network {
	if self.AlchemySlug == "" || key == "" {
		return self
	}
	self.HttpURL = "https://" + self.AlchemySlug + ".g.alchemy.com/v2/" + key
	self.WsURL = "wss://" + self.AlchemySlug + ".g.alchemy.com/v2/" + key
	return self
}

// Environment variable consulted by "Network.FromEnv".
const EnvAlchemyKey = "ALCHEMY_KEY"

// Applies "ALCHEMY_KEY" from the environment via ".Alchemy", if set.
func (self Network) FromEnv() Network {
	return self.Alchemy(os.Getenv(EnvAlchemyKey))
}

// Checks that the network can be dispatched to.
func (self Network) Validate() error {
	if self.ChainID == 0 {
		return errors.Errorf(`network %q: missing chain id`, self.Name)
	}
	if self.HttpURL == "" {
		return errors.Errorf(`network %q: missing HTTP URL`, self.Name)
	}
	return nil
}

var networkRegistry = struct {
	sync.RWMutex
	byName    map[string]Network
	byChainID map[uint64]Network
}{
	byName:    map[string]Network{},
	byChainID: map[uint64]Network{},
}

func init() {
	Register(Mainnet, Sepolia, Optimism, Arbitrum, Base, Polygon, BSC, Avalanche)
}

/*
Adds networks to the lookup table used by "NetworkByName" and
"NetworkByChainID", replacing entries with the same name or chain id.
*/
func Register(nets ...Network) {
	networkRegistry.Lock()
	defer networkRegistry.Unlock()

	for _, net := range nets {
		if net.Name != "" {
			networkRegistry.byName[strings.ToLower(net.Name)] = net
		}
		networkRegistry.byChainID[net.ChainID] = net
	}
}

// Finds a registered network by its case-insensitive name.
func NetworkByName(name string) (Network, bool) {
	networkRegistry.RLock()
	defer networkRegistry.RUnlock()
	net, ok := networkRegistry.byName[strings.ToLower(name)]
	return net, ok
}

// Finds a registered network by chain id.
func NetworkByChainID(id uint64) (Network, bool) {
	networkRegistry.RLock()
	defer networkRegistry.RUnlock()
	net, ok := networkRegistry.byChainID[id]
	return net, ok
}

// Returns all registered networks ordered by chain id.
func Networks() []Network {
	networkRegistry.RLock()
	defer networkRegistry.RUnlock()

	out := make([]Network, 0, len(networkRegistry.byChainID))
	for _, net := range networkRegistry.byChainID {
		out = append(out, net)
	}
	slices.SortFunc(out, func(one, other Network) int { return cmpUint64(one.ChainID, other.ChainID) })
	return out
}

/*
Reads network definitions from a YAML file of the form:

	networks:
	  - name: ethereum
	    chainId: 1
	    httpUrl: https://eth-mainnet.g.alchemy.com/v2/${ALCHEMY_KEY}
	    blockTime: 12s

"${VAR}" references are expanded from the environment. A network whose name or
chain id matches a registered one inherits its unset fields, so overriding a
built-in only requires the fields that differ. Doesn't register the result;
see "Register".
*/
func LoadNetworks(path string) ([]Network, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, `failed to read network config %q`, path)
	}

	var input struct {
		Networks []Network `yaml:"networks"`
	}
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &input)
	if err != nil {
		return nil, errors.Wrapf(err, `failed to decode network config %q`, path)
	}

	out := make([]Network, 0, len(input.Networks))
	for _, net := range input.Networks {
		net = net.withDefaults()
		err := net.Validate()
		if err != nil {
			return nil, errors.Wrapf(err, `invalid network config %q`, path)
		}
		out = append(out, net)
	}
	return out, nil
}

func (self Network) withDefaults() Network {
	base, ok := NetworkByName(self.Name)
	if !ok && self.ChainID != 0 {
		base, ok = NetworkByChainID(self.ChainID)
	}
	if !ok {
		base = Network{Multicall3: Multicall3Address, Timeout: DefaultTimeout, Retries: DefaultRetries}
	}

	if self.ChainID == 0 {
		self.ChainID = base.ChainID
	}
	if self.Name == "" {
		self.Name = base.Name
	}
	if self.HttpURL == "" {
		self.HttpURL = base.HttpURL
	}
	if self.WsURL == "" {
		self.WsURL = base.WsURL
	}
	if self.Multicall3 == ZeroAddress {
		self.Multicall3 = base.Multicall3
	}
	if self.BlockTime == 0 {
		self.BlockTime = base.BlockTime
	}
	if self.AlchemySlug == "" {
		self.AlchemySlug = base.AlchemySlug
	}
	if self.Timeout == 0 {
		self.Timeout = base.Timeout
	}
	if self.Retries == 0 {
		self.Retries = base.Retries
	}
	return self
}

/*
Loads ".env" files into the process environment, without overriding variables
that are already set. Missing files are ignored. Defaults to ".env".
*/
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, `failed to load env file %q`, path)
		}
	}
	return nil
}
