package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of the analysis pipeline and the CLI.
type Config struct {
	LogLevel       string         `yaml:"log_level"`
	Workers        int            `yaml:"workers"`
	Classification Classification `yaml:"classification"`
	Thresholds     Thresholds     `yaml:"thresholds"`
}

// Classification is the explicit table that maps event names to roles.
type Classification struct {
	// Operator name prefixes that mark the data-loading path.
	DataLoaderPrefixes []string `yaml:"dataloader_prefixes"`
	// Operator name prefixes that denote a communication operation.
	CommOpPrefixes []string `yaml:"comm_op_prefixes"`
	// Exact operator names that denote a communication operation.
	CommOpNames []string `yaml:"comm_op_names"`
	// Device kernel name prefixes issued by communication libraries.
	CommKernelPrefixes []string `yaml:"comm_kernel_prefixes"`
	// Substrings in a kernel name that mean tensor cores were used.
	TensorCoreKernelPatterns []string `yaml:"tensor_core_kernel_patterns"`
	// Operators eligible to run on tensor cores.
	TensorCoreEligibleOps []string `yaml:"tensor_core_eligible_ops"`
	// Byte width per declared tensor element type.
	ElementBytes map[string]int64 `yaml:"element_bytes"`
}

// Thresholds are the role-to-total ratios above which a recommendation is emitted.
type Thresholds struct {
	DataLoader    float64 `yaml:"dataloader"`
	Memcpy        float64 `yaml:"memcpy"`
	Runtime       float64 `yaml:"runtime"`
	Communication float64 `yaml:"communication"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Workers:  4,
		Classification: Classification{
			DataLoaderPrefixes: []string{
				"enumerate(DataLoader)",
				"_MultiProcessingDataLoaderIter",
				"_SingleProcessDataLoaderIter",
			},
			CommOpPrefixes: []string{"nccl:", "gloo:", "mpi:", "c10d::"},
			CommOpNames: []string{
				"record_param_comms",
				"allreduce",
				"allgather",
				"broadcast",
				"reduce_scatter",
				"all_to_all",
				"barrier",
			},
			CommKernelPrefixes: []string{"nccl", "gloo"},
			TensorCoreKernelPatterns: []string{
				"h884", "s884", "h1688", "s1688", "hmma", "i8816", "16816",
				"dgrad_1x1_stride_2x2", "first_layer_wgrad_kernel", "conv1x1",
				"conv2d_c1_k1", "direct_group", "xmma_implicit_gemm",
				"xmma_sparse_conv", "xmma_warp_specialized_implicit_gemm",
				"xmma_gemm", "xmma_sparse_gemm", "c1688gemm",
			},
			TensorCoreEligibleOps: []string{
				"aten::gru_cell", "aten::lstm_cell", "aten::cudnn_convolution",
				"aten::convolution", "aten::_convolution", "aten::conv1d",
				"aten::conv2d", "aten::conv3d", "aten::conv_tbc",
				"aten::conv_transpose1d", "aten::conv_transpose2d",
				"aten::conv_transpose3d", "aten::addmm", "aten::addmv",
				"aten::addbmm", "aten::baddbmm", "aten::matmul", "aten::mm",
				"aten::mv", "aten::bmm", "aten::linear", "aten::prelu",
				"aten::chain_matmul", "aten::cudnn_convolution_transpose",
			},
			ElementBytes: map[string]int64{
				"long int": 8,
				"long":     8,
				"int64":    8,
				"double":   8,
				"float":    4,
				"int":      4,
				"int32":    4,
			},
		},
		Thresholds: Thresholds{
			DataLoader:    0.05,
			Memcpy:        0.10,
			Runtime:       0.10,
			Communication: 0.20,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}
