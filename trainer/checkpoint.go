package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sugarme/satseg/unet"
)

const (
	weightsExt  = ".gt"
	manifestExt = ".meta.pb"
)

// Manifest describes a checkpoint: training progress and what is needed to
// rebuild the network and optimizer. Optimizer moments are not saved, a
// resumed run starts them from zero.
type Manifest struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	ValIoU    float64
	BestIoU   float64
	Optimizer string
	LR        float64
	Model     unet.Config
	Created   time.Time
}

func (m *Manifest) toStruct() (*structpb.Struct, error) {
	features := make([]interface{}, len(m.Model.Features))
	for i, f := range m.Model.Features {
		features[i] = f
	}

	return structpb.NewStruct(map[string]interface{}{
		"epoch":      m.Epoch,
		"train_loss": m.TrainLoss,
		"val_loss":   m.ValLoss,
		"val_iou":    m.ValIoU,
		"best_iou":   m.BestIoU,
		"optimizer":  m.Optimizer,
		"lr":         m.LR,
		"created":    m.Created.UTC().Format(time.RFC3339),
		"model": map[string]interface{}{
			"in_channels": m.Model.InChannels,
			"out_classes": m.Model.OutClasses,
			"features":    features,
			"attention":   m.Model.Attention,
		},
	})
}

func manifestFromStruct(s *structpb.Struct) (*Manifest, error) {
	f := s.GetFields()
	num := func(k string) float64 { return f[k].GetNumberValue() }

	created, err := time.Parse(time.RFC3339, f["created"].GetStringValue())
	if err != nil {
		return nil, errors.Wrap(err, "manifest created time")
	}

	model := f["model"].GetStructValue()
	if model == nil {
		return nil, errors.New("manifest has no model section")
	}
	mf := model.GetFields()
	var features []int64
	for _, v := range mf["features"].GetListValue().GetValues() {
		features = append(features, int64(v.GetNumberValue()))
	}

	return &Manifest{
		Epoch:     int(num("epoch")),
		TrainLoss: num("train_loss"),
		ValLoss:   num("val_loss"),
		ValIoU:    num("val_iou"),
		BestIoU:   num("best_iou"),
		Optimizer: f["optimizer"].GetStringValue(),
		LR:        num("lr"),
		Created:   created,
		Model: unet.Config{
			InChannels: int64(mf["in_channels"].GetNumberValue()),
			OutClasses: int64(mf["out_classes"].GetNumberValue()),
			Features:   features,
			Attention:  mf["attention"].GetBoolValue(),
		},
	}, nil
}

// EpochName returns the checkpoint base name for an epoch.
func EpochName(epoch int) string {
	return fmt.Sprintf("unet_epoch%03d", epoch)
}

// BestName is the checkpoint base name of the best validation IoU so far.
const BestName = "unet_best"

// SaveCheckpoint writes <dir>/<name>.gt (VarStore weights) and
// <dir>/<name>.meta.pb (manifest).
func SaveCheckpoint(vs *nn.VarStore, m *Manifest, dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", dir)
	}

	base := filepath.Join(dir, name)
	if err := vs.Save(base + weightsExt); err != nil {
		return errors.Wrapf(err, "saving weights %q", base+weightsExt)
	}

	s, err := m.toStruct()
	if err != nil {
		return errors.Wrap(err, "building manifest")
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	if err := os.WriteFile(base+manifestExt, data, 0644); err != nil {
		return errors.Wrapf(err, "writing manifest %q", base+manifestExt)
	}

	return nil
}

// ReadManifest reads <path>.meta.pb, path being the checkpoint base.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path + manifestExt)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "decoding manifest %q", path+manifestExt)
	}
	return manifestFromStruct(s)
}

// LoadCheckpoint reads the manifest at path and loads the weights into vs,
// which must hold a network built from Manifest.Model.
func LoadCheckpoint(vs *nn.VarStore, path string) (*Manifest, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if err := vs.Load(path + weightsExt); err != nil {
		return nil, errors.Wrapf(err, "loading weights %q", path+weightsExt)
	}
	return m, nil
}
