//go:build windows

package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/born-ml/genbound/internal/tensor"
	"github.com/go-webgpu/webgpu/wgpu"
)

// matmulShader performs matrix multiplication: C = A @ B.
// A is [M, K], B is [K, N], C is [M, N].
const matmulShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.M || col >= params.N) {
        return;
    }

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        sum = sum + a[row * params.K + k] * b[k * params.N + col];
    }
    result[row * params.N + col] = sum;
}
`

// WebGPU multiplies on the GPU in float32. Results are widened back to
// float64, so scores carry single-precision rounding.
type WebGPU struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu       sync.Mutex
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

// NewWebGPU opens the high-performance adapter.
func NewWebGPU() (gpu Device, err error) {
	// wgpu panics when the native library is missing.
	defer func() {
		if r := recover(); r != nil {
			gpu = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrAcceleratorUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %v", ErrAcceleratorUnavailable, err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request device: %v", ErrAcceleratorUnavailable, err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to get queue", ErrAcceleratorUnavailable)
	}

	return &WebGPU{instance: instance, adapter: adapter, device: device, queue: queue}, nil
}

// Kind returns tensor.WebGPU.
func (*WebGPU) Kind() tensor.Device {
	return tensor.WebGPU
}

// MatMul returns a @ b computed by the matmul compute shader.
func (g *WebGPU) MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	m, k, n, err := checkMatMul(a, b)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pipeline := g.getOrCreatePipeline()

	bufferA := g.createBuffer(toFloat32Bytes(a.Data()), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferA.Release()
	bufferB := g.createBuffer(toFloat32Bytes(b.Data()), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferB.Release()

	//nolint:gosec // G115: matrix dimensions are positive
	resultSize := uint64(m * n * 4)
	bufferResult := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	// M, K, N padded to the 16-byte uniform alignment.
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))  //nolint:gosec // G115
	binary.LittleEndian.PutUint32(params[4:8], uint32(k))  //nolint:gosec // G115
	binary.LittleEndian.PutUint32(params[8:12], uint32(n)) //nolint:gosec // G115
	bufferParams := g.createBuffer(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer bufferParams.Release()

	//nolint:gosec // G115: buffer sizes are positive
	bindGroup := g.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferA, 0, uint64(len(a.Data())*4)),
		wgpu.BufferBindingEntry(1, bufferB, 0, uint64(len(b.Data())*4)),
		wgpu.BufferBindingEntry(2, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(3, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := g.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	workgroupsX := uint32(math.Ceil(float64(n) / 16.0))
	workgroupsY := uint32(math.Ceil(float64(m) / 16.0))
	computePass.DispatchWorkgroups(workgroupsX, workgroupsY, 1)
	computePass.End()
	g.queue.Submit(encoder.Finish(nil))

	raw, err := g.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.Shape{m, n}, fromFloat32Bytes(raw))
}

// Close releases all WebGPU resources.
func (g *WebGPU) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pipeline != nil {
		g.pipeline.Release()
		g.pipeline = nil
	}
	if g.shader != nil {
		g.shader.Release()
		g.shader = nil
	}
	if g.queue != nil {
		g.queue.Release()
		g.queue = nil
	}
	if g.device != nil {
		g.device.Release()
		g.device = nil
	}
	if g.adapter != nil {
		g.adapter.Release()
		g.adapter = nil
	}
	if g.instance != nil {
		g.instance.Release()
		g.instance = nil
	}
}

// getOrCreatePipeline compiles the shader once and caches the pipeline.
// Must be called with g.mu held.
func (g *WebGPU) getOrCreatePipeline() *wgpu.ComputePipeline {
	if g.pipeline != nil {
		return g.pipeline
	}
	g.shader = g.device.CreateShaderModuleWGSL(matmulShader)
	g.pipeline = g.device.CreateComputePipelineSimple(nil, g.shader, "main")
	return g.pipeline
}

// createBuffer creates a buffer with data uploaded through a mapped range.
// The size is rounded up to 16 bytes for uniform buffers.
func (g *WebGPU) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := (uint64(len(data)) + 15) &^ 15
	buffer := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer into a staging buffer and maps it.
func (g *WebGPU) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := g.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	g.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(g.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("device: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(mappedPtr), size))
	staging.Unmap()
	return out, nil
}

func toFloat32Bytes(data []float64) []byte {
	out := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}

func fromFloat32Bytes(raw []byte) []float64 {
	out := make([]float64, len(raw)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return out
}
