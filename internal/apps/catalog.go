// -----------------------------------------------------------------------
// Catalog - Built-in application descriptors
// -----------------------------------------------------------------------

package apps

import (
	"strconv"
	"strings"
)

// caesarApp is the CAESAR source finder. The submitter script supports both
// a plain MPI run and submission through a batch system; when the deployment
// runs against Slurm the prelude carries the batch options.
func caesarApp(cfg CatalogConfig) App {
	prelude := []string{"--run"}
	if cfg.UseSlurm {
		prelude = append(prelude, "--batchsystem=SLURM", "--queue="+cfg.SlurmQueue)
	}

	return App{
		Name:          "caesar",
		Command:       "SFinderSubmitter.sh",
		Prelude:       prelude,
		DataInputFlag: "inputfile",
		BatchSupport:  true,
		Options: map[string]Option{
			"no-logredir": {Name: "no-logredir", Kind: KindFlag, Description: "Do not redirect logs to output file in script"},
			"no-mpi":      {Name: "no-mpi", Kind: KindFlag, Category: "RUN", Description: "Disable MPI run (even with 1 proc)"},
			"nproc":       {Name: "nproc", Kind: KindValue, Type: ValueInt, Category: "RUN", Description: "Number of MPI processors per node used (NB: mpi tot nproc=nproc x nnodes)"},
			"nthreads":    {Name: "nthreads", Kind: KindValue, Type: ValueInt, Category: "RUN", Description: "Number of threads to be used in OpenMP"},

			"envfile":  {Name: "envfile", Kind: KindValue, Type: ValueString, Category: "RUN", Advanced: true, Description: "File (.sh) with environment variables to be loaded by each processing node"},
			"maxfiles": {Name: "maxfiles", Kind: KindValue, Type: ValueInt, Category: "RUN", Advanced: true, Description: "Maximum number of input files processed in filelist"},

			"save-inputmap":       {Name: "save-inputmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save input map in output ROOT file"},
			"save-bkgmap":         {Name: "save-bkgmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save bkg map in output ROOT file"},
			"save-rmsmap":         {Name: "save-rmsmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save rms map in output ROOT file"},
			"save-significancemap": {Name: "save-significancemap", Kind: KindFlag, Category: "OUTPUT", Description: "Save significance map in output ROOT file"},
			"save-residualmap":    {Name: "save-residualmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save residual map in output ROOT file"},
			"save-regions":        {Name: "save-regions", Kind: KindFlag, Category: "OUTPUT", Description: "Save DS9 regions"},

			"tilesize": {Name: "tilesize", Kind: KindValue, Type: ValueInt, Category: "IMGREAD", Description: "Size (in pixels) of tile used to partition input image in distributed processing"},
			"tilestep": {Name: "tilestep", Kind: KindValue, Type: ValueFloat, Category: "IMGREAD", Description: "Tile step size (range 0-1) expressed as tile fraction used in tile overlap"},
			"xmin":     {Name: "xmin", Kind: KindValue, Type: ValueInt, Category: "IMGREAD", Advanced: true, Description: "Read sub-image of input image starting from pixel x=xmin"},
			"xmax":     {Name: "xmax", Kind: KindValue, Type: ValueInt, Category: "IMGREAD", Advanced: true, Description: "Read sub-image of input image up to pixel x=xmax"},
			"ymin":     {Name: "ymin", Kind: KindValue, Type: ValueInt, Category: "IMGREAD", Advanced: true, Description: "Read sub-image of input image starting from pixel y=ymin"},
			"ymax":     {Name: "ymax", Kind: KindValue, Type: ValueInt, Category: "IMGREAD", Advanced: true, Description: "Read sub-image of input image up to pixel y=ymax"},

			"globalbkg":    {Name: "globalbkg", Kind: KindFlag, Category: "BKG", Description: "Use global bkg instead of local bkg"},
			"bkgestimator": {Name: "bkgestimator", Kind: KindValue, Type: ValueInt, Category: "BKG", Description: "Stat estimator used for bkg (1=Mean,2=Median,3=BiWeight,4=ClippedMedian)"},
			"bkgbox":       {Name: "bkgbox", Kind: KindValue, Type: ValueInt, Category: "BKG", Description: "Box size (multiple of beam size) used to compute local bkg"},
			"bkggrid":      {Name: "bkggrid", Kind: KindValue, Type: ValueFloat, Category: "BKG", Description: "Grid size (fraction of bkg box) used to compute local bkg"},

			"no-compactsearch": {Name: "no-compactsearch", Kind: KindFlag, Category: "COMPACT-SOURCES", Description: "Do not search compact sources"},
			"npixmin":          {Name: "npixmin", Kind: KindValue, Type: ValueInt, Category: "COMPACT-SOURCES", Description: "Minimum number of pixels to form a compact source"},
			"seedthr":          {Name: "seedthr", Kind: KindValue, Type: ValueFloat, Category: "COMPACT-SOURCES", Description: "Seed threshold (in nsigmas) used in flood-fill"},
			"mergethr":         {Name: "mergethr", Kind: KindValue, Type: ValueFloat, Category: "COMPACT-SOURCES", Description: "Merge threshold (in nsigmas) used in flood-fill"},

			"no-extendedsearch": {Name: "no-extendedsearch", Kind: KindFlag, Category: "EXTENDED-SOURCES", Description: "Do not search extended sources"},
			"extsfinder":        {Name: "extsfinder", Kind: KindValue, Type: ValueInt, Category: "EXTENDED-SOURCES", Description: "Extended source search method {1=WT-thresholding,2=SPSegmentation,3=ActiveContour,4=Saliency thresholding}"},
			"activecontour":     {Name: "activecontour", Kind: KindValue, Type: ValueInt, Category: "EXTENDED-SOURCES", Description: "Active contour method {1=Chanvese, 2=LRAC}"},

			"fit-sources":        {Name: "fit-sources", Kind: KindFlag, Category: "FITTING", Description: "Fit compact point-like sources found"},
			"fit-maxcomponents":  {Name: "fit-maxcomponents", Kind: KindValue, Type: ValueInt, Category: "FITTING", Description: "Maximum number of components fitted in a blob"},
			"fit-usethreads":     {Name: "fit-usethreads", Kind: KindFlag, Category: "FITTING", Advanced: true, Description: "Enable multithread in source fitting"},
			"prefit-freeampl":    {Name: "prefit-freeampl", Kind: KindFlag, Category: "FITTING", Advanced: true, Description: "Set amplitude free in pre-fit"},
			"fit-freebkg":        {Name: "fit-freebkg", Kind: KindFlag, Category: "FITTING", Advanced: true, Description: "Set bkg offset parameter free in fit"},
		},
	}
}

func cutexApp() App {
	return App{
		Name:          "cutex",
		Command:       "cutex_submitter.sh",
		Prelude:       []string{"--run", "--save-summaryplot", "--save-catalog-to-json"},
		DataInputFlag: "inputfile",
		Options: map[string]Option{
			"seedthr":   {Name: "seedthr", Kind: KindValue, Type: ValueFloat, Min: fptr(0), Max: fptr(10000), Default: 5.0, Category: "COMPACT-SOURCES", Description: "Blob finding threshold in sigmas, below which pixels are not considered in the source detection"},
			"npixmin":   {Name: "npixmin", Kind: KindValue, Type: ValueInt, Min: fptr(1), Max: fptr(10000), Default: 4, Category: "COMPACT-SOURCES", Description: "Minimum number of pixels to consider a source detected"},
			"npixpsf":   {Name: "npixpsf", Kind: KindValue, Type: ValueFloat, Min: fptr(1), Max: fptr(10000), Default: 2.7, Category: "COMPACT-SOURCES", Description: "Number of pixels that sample the instrumental PSF on the input image"},
			"psflimmin": {Name: "psflimmin", Kind: KindValue, Type: ValueFloat, Min: fptr(0.0001), Max: fptr(100), Default: 0.5, Category: "FITTING", Description: "Lower limit of PSF by which gaussian fitting is considered acceptable"},
			"psflimmax": {Name: "psflimmax", Kind: KindValue, Type: ValueFloat, Min: fptr(0.0001), Max: fptr(100), Default: 2.0, Category: "FITTING", Description: "Upper limit of PSF by which gaussian fitting is considered acceptable"},
			"no-logredir": {Name: "no-logredir", Kind: KindFlag, Description: "Do not redirect logs to output file in script"},
		},
	}
}

func aegeanApp() App {
	return App{
		Name:          "aegean",
		Command:       "aegean_submitter.sh",
		Prelude:       []string{"--run", "--save-summaryplot", "--save-regions", "--save-catalog-to-json"},
		DataInputFlag: "inputfile",
		Options: map[string]Option{
			"save-bkgmap":       {Name: "save-bkgmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save bkg map in output file"},
			"save-rmsmap":       {Name: "save-rmsmap", Kind: KindFlag, Category: "OUTPUT", Description: "Save rms map in output file"},
			"bkgbox":            {Name: "bkgbox", Kind: KindValue, Type: ValueInt, Min: fptr(5), Max: fptr(10000), Default: 100, Category: "BKG", Description: "Box size in pixels used to compute local bkg"},
			"bkggrid":           {Name: "bkggrid", Kind: KindValue, Type: ValueInt, Min: fptr(5), Max: fptr(1000), Default: 20, Category: "BKG", Description: "Grid size in pixels used to compute local bkg"},
			"seedthr":           {Name: "seedthr", Kind: KindValue, Type: ValueFloat, Min: fptr(0), Max: fptr(10000), Default: 5.0, Category: "COMPACT-SOURCES", Description: "Seed threshold (in nsigmas) used in flood-fill"},
			"mergethr":          {Name: "mergethr", Kind: KindValue, Type: ValueFloat, Min: fptr(0), Max: fptr(10000), Default: 2.6, Category: "COMPACT-SOURCES", Description: "Merge threshold (in nsigmas) used in flood-fill"},
			"fit-maxcomponents": {Name: "fit-maxcomponents", Kind: KindValue, Type: ValueInt, Min: fptr(0), Max: fptr(100), Default: 3, Category: "FITTING", Description: "Maximum number of components fitted in an island"},
			"ncores":            {Name: "ncores", Kind: KindValue, Type: ValueInt, Min: fptr(1), Max: fptr(100), Category: "RUN", Description: "Number of cores used by the finder"},
			"no-logredir":       {Name: "no-logredir", Kind: KindFlag, Description: "Do not redirect logs to output file in script"},
		},
	}
}

func classifierApp() App {
	return App{
		Name:          "cnn-classifier",
		Command:       "run_classifier.sh",
		Prelude:       []string{"--run"},
		DataInputFlag: "inputfile",
		Options: map[string]Option{
			"model": {
				Name: "model", Kind: KindEnum, Type: ValueString,
				Default:       "smorphclass",
				AllowedValues: []string{"smorphclass", "sclass-radio_3.4um-4.6um-12um-22um"},
				Category:      "MODEL",
				Description:   "Classifier model to be used",
			},
			"imgsize":   {Name: "imgsize", Kind: KindValue, Type: ValueInt, Min: fptr(16), Max: fptr(1024), Default: 64, Category: "PREPROCESSING", Description: "Size in pixels of resized input image given to the network"},
			"normalize": {Name: "normalize", Kind: KindFlag, Category: "PREPROCESSING", Description: "Normalize input images in range [normmin, normmax]"},
			"normmin":   {Name: "normmin", Kind: KindValue, Type: ValueFloat, Min: fptr(-1), Max: fptr(0), Default: 0.0, Category: "PREPROCESSING", Description: "Normalization minimum"},
			"normmax":   {Name: "normmax", Kind: KindValue, Type: ValueFloat, Min: fptr(1), Max: fptr(255), Default: 1.0, Category: "PREPROCESSING", Description: "Normalization maximum"},
			"zscale":    {Name: "zscale", Kind: KindFlag, Category: "PREPROCESSING", Description: "Apply z-scale transform to each channel with given contrasts"},
			"zscale-contrasts": {Name: "zscale-contrasts", Kind: KindValue, Type: ValueString, Default: "0.25", Category: "PREPROCESSING", Description: "Comma-separated z-scale contrast per channel"},
			"sigmaclip":      {Name: "sigmaclip", Kind: KindFlag, Category: "PREPROCESSING", Description: "Apply sigma clipping to input images"},
			"sigmaclip-low":  {Name: "sigmaclip-low", Kind: KindValue, Type: ValueFloat, Default: 5.0, Category: "PREPROCESSING", Description: "Lower sigma clip threshold"},
			"sigmaclip-up":   {Name: "sigmaclip-up", Kind: KindValue, Type: ValueFloat, Default: 30.0, Category: "PREPROCESSING", Description: "Upper sigma clip threshold"},
			"sigmaclip-chid": {Name: "sigmaclip-chid", Kind: KindValue, Type: ValueInt, Default: -1, Category: "PREPROCESSING", Description: "Channel the sigma clip is applied to (-1=all)"},
			"standardize":    {Name: "standardize", Kind: KindFlag, Category: "PREPROCESSING", Description: "Standardize input images with given means and sigmas"},
			"means":          {Name: "means", Kind: KindValue, Type: ValueString, Default: "0", Category: "PREPROCESSING", Description: "Comma-separated mean per channel used in standardization"},
			"sigmas":         {Name: "sigmas", Kind: KindValue, Type: ValueString, Default: "1", Category: "PREPROCESSING", Description: "Comma-separated sigma per channel used in standardization"},
			"no-logredir":    {Name: "no-logredir", Kind: KindFlag, Description: "Do not redirect logs to output file in script"},
		},
		Transformers: map[string]TransformFunc{
			"zscale-contrasts": normalizeFloatList,
			"means":            normalizeFloatList,
			"sigmas":           normalizeFloatList,
		},
	}
}

func maskRCNNApp(cfg CatalogConfig) App {
	return App{
		Name:          "mrcnn",
		Command:       "run_mrcnn.sh",
		Prelude:       []string{"--runmode=detect", "--weights=" + cfg.MaskRCNNWeights},
		DataInputFlag: "image",
		BatchSupport:  false,
		Options: map[string]Option{
			"scoreThr": {Name: "scoreThr", Kind: KindValue, Type: ValueFloat, Default: 0.7, Description: "Detected object score threshold to select as final object"},
			"iouThr":   {Name: "iouThr", Kind: KindValue, Type: ValueFloat, Default: 0.6, Description: "IOU threshold between detected and ground truth bboxes to consider the object as detected"},
		},
	}
}

// normalizeFloatList canonicalizes a comma-separated float list: whitespace
// is stripped and every element must parse. A malformed list transforms to
// the empty string, which rejects the submission.
func normalizeFloatList(value string) string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if _, err := strconv.ParseFloat(p, 64); err != nil {
			return ""
		}
		out = append(out, p)
	}
	return strings.Join(out, ",")
}
