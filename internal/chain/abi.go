package chain

// investmentABI covers the read-only methods of both Pool and NFTPool
// contracts. Methods that only one family implements simply revert on
// the other.
const investmentABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"tokenPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"_performanceFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"seedPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getAvailableTokensPerClass","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPositionsAndTotal","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"address[]"},{"name":"","type":"uint256[]"},{"name":"","type":"uint256"}]}
]`

const (
	MethodName                    = "name"
	MethodTokenPrice              = "tokenPrice"
	MethodTotalSupply             = "totalSupply"
	MethodPerformanceFee          = "_performanceFee"
	MethodMaxSupply               = "maxSupply"
	MethodSeedPrice               = "seedPrice"
	MethodAvailableTokensPerClass = "getAvailableTokensPerClass"
	MethodPositions               = "getPositionsAndTotal"
)
